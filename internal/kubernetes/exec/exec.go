// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package exec runs commands inside workload containers over the
// cluster's SPDY exec subresource, wiring caller-owned streams to the
// remote process.
package exec

import (
	"context"
	"io"
	"net/url"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

var logger = loggo.GetLogger("wharfkeep.kubernetes.exec")

// NewExecutorFunc builds the transport-level stream executor; swapped
// out in tests.
type NewExecutorFunc func(config *rest.Config, method string, url *url.URL) (remotecommand.Executor, error)

// Executor opens exec channels against pods in one namespace.
type Executor struct {
	namespace   string
	restClient  rest.Interface
	config      *rest.Config
	newExecutor NewExecutorFunc
}

// New returns an executor for the given namespace using the given
// client configuration.
func New(namespace string, clientset kubernetes.Interface, config *rest.Config) *Executor {
	return newExecutor(namespace, clientset.CoreV1().RESTClient(), config, remotecommand.NewSPDYExecutor)
}

func newExecutor(namespace string, restClient rest.Interface, config *rest.Config, f NewExecutorFunc) *Executor {
	return &Executor{
		namespace:   namespace,
		restClient:  restClient,
		config:      config,
		newExecutor: f,
	}
}

// Params holds the what and where of one remote command.
type Params struct {
	PodName       string
	ContainerName string
	Commands      []string

	// Stdin, Stdout and Stderr are wired to the remote process when
	// non-nil. The remote side sees closed descriptors for nil ones.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (p Params) validate() error {
	if len(p.Commands) == 0 {
		return errors.NotValidf("empty commands")
	}
	if p.PodName == "" {
		return errors.NotValidf("empty pod name")
	}
	return nil
}

// Exec runs the command and blocks until the remote process exits or
// ctx is cancelled. A non-zero exit surfaces as an error satisfying
// ExitError.
func (e *Executor) Exec(ctx context.Context, p Params) error {
	if err := p.validate(); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("executing %v in pod %q container %q", p.Commands, p.PodName, p.ContainerName)

	req := e.restClient.Post().
		Resource("pods").
		Name(p.PodName).
		Namespace(e.namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: p.ContainerName,
			Command:   p.Commands,
			Stdin:     p.Stdin != nil,
			Stdout:    p.Stdout != nil,
			Stderr:    p.Stderr != nil,
			TTY:       false,
		}, scheme.ParameterCodec)

	executor, err := e.newExecutor(e.config, "POST", req.URL())
	if err != nil {
		return errors.Annotatef(err, "opening exec channel to pod %q", p.PodName)
	}
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
		Stderr: p.Stderr,
		Tty:    false,
	})
	if err != nil {
		if exitErr, ok := errors.Cause(err).(ExitError); ok {
			return errors.Annotatef(err, "command exited %d in pod %q", exitErr.ExitStatus(), p.PodName)
		}
		return errors.Annotatef(err, "streaming exec to pod %q", p.PodName)
	}
	return nil
}
