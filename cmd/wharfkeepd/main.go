// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// wharfkeepd provisions managed database instances inside a
// kubernetes namespace and serves the management API over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/wharfkeep/wharfkeep/internal/apiserver"
	"github.com/wharfkeep/wharfkeep/internal/backups"
	"github.com/wharfkeep/wharfkeep/internal/config"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes/exec"
	"github.com/wharfkeep/wharfkeep/internal/orchestrator"
	"github.com/wharfkeep/wharfkeep/internal/s3client"
)

var logger = loggo.GetLogger("wharfkeep.cmd.wharfkeepd")

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main parses flags, assembles the service and runs it until a
// termination signal arrives.
func Main(args []string) int {
	flags := gnuflag.NewFlagSetWithFlagKnownAs("wharfkeepd", gnuflag.ContinueOnError, "option")
	configPath := flags.String("config", "", "path to a YAML configuration file")
	if err := flags.Parse(true, args); err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		return 2
	}

	if err := run(*configPath); err != nil {
		logger.Criticalf("%s", errors.Details(err))
		return 1
	}
	return 0
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if cfg.LoggingConfig != "" {
		loggo.DefaultContext().ResetLoggerLevels()
		if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
			return errors.Annotate(err, "configuring loggers")
		}
	}
	kubernetes.SetupKlog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restCfg, err := restConfig(cfg.KubeConfigPath)
	if err != nil {
		return errors.Trace(err)
	}
	clientset, err := k8sclient.NewForConfig(restCfg)
	if err != nil {
		return errors.Annotate(err, "building kubernetes clientset")
	}
	client := kubernetes.NewClient(clientset, cfg.Namespace)
	runner := exec.New(cfg.Namespace, clientset, restCfg)

	session, err := s3client.NewSession(ctx, s3client.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		Region:    cfg.ObjectStore.Region,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := session.EnsureBucket(ctx, cfg.ObjectStore.Bucket); err != nil {
		return errors.Annotatef(err, "ensuring bucket %q", cfg.ObjectStore.Bucket)
	}
	artifacts := backups.NewArtifactStore(session, cfg.ObjectStore.Bucket)

	orc, err := orchestrator.New(orchestrator.Params{
		Client:    client,
		Clock:     clock.WallClock,
		Artifacts: artifacts,
		ObjectStore: orchestrator.ObjectStoreSettings{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Region:    cfg.ObjectStore.Region,
			Bucket:    cfg.ObjectStore.Bucket,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
		},
		PasswordLength:        cfg.PasswordLength,
		DefaultBackupSchedule: cfg.BackupSchedule,
	})
	if err != nil {
		return errors.Trace(err)
	}
	pipeline, err := backups.NewPipeline(backups.Params{
		Client:    client,
		Runner:    runner,
		Artifacts: artifacts,
		Clock:     clock.WallClock,
	})
	if err != nil {
		return errors.Trace(err)
	}
	api, err := apiserver.NewServer(apiserver.Params{
		Databases: orc,
		Backups:   pipeline,
	})
	if err != nil {
		return errors.Trace(err)
	}

	logger.Infof("managing databases in namespace %q", cfg.Namespace)
	return errors.Trace(serve(ctx, cfg.ListenAddr, api))
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("management API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.Trace(err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return errors.Trace(err)
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "shutting down server")
	}
	return errors.Trace(<-errCh)
}

// restConfig resolves the cluster connection, preferring in-cluster
// credentials when no kubeconfig is supplied.
func restConfig(kubeConfigPath string) (*rest.Config, error) {
	if kubeConfigPath == "" {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, errors.Annotate(err, "loading in-cluster config")
		}
		return cfg, nil
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeConfigPath)
	if err != nil {
		return nil, errors.Annotatef(err, "loading kubeconfig %q", kubeConfigPath)
	}
	return cfg, nil
}
