// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package orchestrator owns the lifecycle of managed database
// instances. Each instance is a fixed set of cluster resources; the
// orchestrator creates them as a unit, reconstructs instance state
// from them on reads, and tears them down as a unit.
package orchestrator

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/kr/pretty"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/wharfkeep/wharfkeep/core/database"
	"github.com/wharfkeep/wharfkeep/internal/engine"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
)

var logger = loggo.GetLogger("wharfkeep.orchestrator")

const (
	// cleanupTimeout bounds the rollback of a failed create. Rollback
	// runs on a fresh context so it still proceeds when the request
	// context is already cancelled.
	cleanupTimeout = 30 * time.Second

	// Artifact removal after a delete is retried in the background.
	artifactCleanupTimeout  = 5 * time.Minute
	artifactCleanupAttempts = 5
	artifactCleanupDelay    = 2 * time.Second
)

// ObjectStoreSettings is the object-store location and credentials
// propagated to backup job pods through the shared secret.
type ObjectStoreSettings struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// ArtifactRemover deletes every stored backup artifact belonging to
// one internal database name.
type ArtifactRemover interface {
	DeleteAll(ctx context.Context, internalName string) error
}

// Params holds orchestrator dependencies. Artifacts may be nil, in
// which case deleted instances leave their stored backups behind.
type Params struct {
	Client                *kubernetes.Client
	Clock                 clock.Clock
	Artifacts             ArtifactRemover
	ObjectStore           ObjectStoreSettings
	PasswordLength        int
	DefaultBackupSchedule string
}

// Validate returns an error if the orchestrator cannot operate with
// these params.
func (p Params) Validate() error {
	if p.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if p.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if p.DefaultBackupSchedule == "" {
		return errors.NotValidf("empty DefaultBackupSchedule")
	}
	return nil
}

// Orchestrator provisions, inspects and removes database instances.
type Orchestrator struct {
	client          *kubernetes.Client
	clock           clock.Clock
	artifacts       ArtifactRemover
	store           ObjectStoreSettings
	passwordLength  int
	defaultSchedule string
}

// New returns an orchestrator using the supplied dependencies.
func New(p Params) (*Orchestrator, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Orchestrator{
		client:          p.Client,
		clock:           p.Clock,
		artifacts:       p.Artifacts,
		store:           p.ObjectStore,
		passwordLength:  p.PasswordLength,
		defaultSchedule: p.DefaultBackupSchedule,
	}, nil
}

// failHooks collects undo closures for resources created so far. On
// failure they run in reverse creation order.
type failHooks []func(context.Context)

// Create provisions a new instance and returns it with its generated
// credentials. This is the only time the password leaves the cluster
// in a response. A failure part way through removes everything the
// call had created; the instance secret acts as the identity check,
// so a name that already has one fails without touching anything
// else.
func (o *Orchestrator) Create(ctx context.Context, args database.CreateArgs) (_ *database.Instance, err error) {
	if err := kubernetes.ValidateInstanceName(args.Name); err != nil {
		return nil, errors.Trace(err)
	}
	strategy, err := engine.ForEngine(args.Engine)
	if err != nil {
		return nil, errors.Trace(err)
	}
	version := args.Version
	if version == "" {
		version = strategy.DefaultVersion()
	}
	schedule := args.BackupSchedule
	if schedule == "" {
		schedule = o.defaultSchedule
	}
	username, err := strategy.GenerateUsername()
	if err != nil {
		return nil, errors.Annotate(err, "generating username")
	}
	password, err := engine.GeneratePassword(o.passwordLength)
	if err != nil {
		return nil, errors.Annotate(err, "generating password")
	}

	r := renderContext{
		name:           args.Name,
		namespace:      o.client.Namespace(),
		strategy:       strategy,
		version:        version,
		username:       username,
		password:       password,
		databaseName:   strategy.NormalizeDatabaseName(args.Name),
		backupSchedule: schedule,
	}

	cleanups := &failHooks{}
	defer func() {
		if err == nil || len(*cleanups) == 0 {
			return
		}
		logger.Debugf("create of %q failed, cleaning up %d resources already created", args.Name, len(*cleanups))
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		for i := len(*cleanups) - 1; i >= 0; i-- {
			(*cleanups)[i](cctx)
		}
	}()

	if err = o.client.EnsureSecret(ctx, sharedObjectStoreSecret(o.client.Namespace(), o.store)); err != nil {
		return nil, errors.Annotate(err, "ensuring object store secret")
	}

	secret := r.secret()
	if _, err = o.client.CreateSecret(ctx, secret); err != nil {
		if errors.Is(err, errors.AlreadyExists) {
			return nil, errors.AlreadyExistsf("database %q", args.Name)
		}
		return nil, errors.Annotate(err, "creating credentials secret")
	}
	*cleanups = append(*cleanups, func(ctx context.Context) {
		if err := o.client.DeleteSecret(ctx, secret.Name); err != nil {
			logger.Warningf("cleaning up secret %q: %v", secret.Name, err)
		}
	})

	service, err := o.client.CreateService(ctx, r.service())
	if err != nil {
		return nil, errors.Annotate(err, "creating service")
	}
	*cleanups = append(*cleanups, func(ctx context.Context) {
		if err := o.client.DeleteService(ctx, service.Name); err != nil {
			logger.Warningf("cleaning up service %q: %v", service.Name, err)
		}
	})

	// The workload spec references credentials by secret name only,
	// so it is safe to dump at trace level.
	spec := r.statefulSet()
	logger.Tracef("rendered workload for %q -> %s", args.Name, pretty.Sprint(spec))
	workload, err := o.client.CreateStatefulSet(ctx, spec)
	if err != nil {
		return nil, errors.Annotate(err, "creating workload")
	}
	*cleanups = append(*cleanups, func(ctx context.Context) {
		if err := o.client.DeleteStatefulSet(ctx, workload.Name); err != nil {
			logger.Warningf("cleaning up workload %q: %v", workload.Name, err)
		}
	})

	if cronJob := r.cronJob(); cronJob != nil {
		created, err := o.client.CreateCronJob(ctx, cronJob)
		if err != nil {
			return nil, errors.Annotate(err, "creating scheduled backup")
		}
		*cleanups = append(*cleanups, func(ctx context.Context) {
			if err := o.client.DeleteCronJob(ctx, created.Name); err != nil {
				logger.Warningf("cleaning up scheduled backup %q: %v", created.Name, err)
			}
		})
	}

	logger.Infof("created %s database %q", args.Engine, args.Name)

	inst := &database.Instance{
		Name:           args.Name,
		Engine:         args.Engine,
		Version:        version,
		Status:         database.StatusPending,
		Username:       username,
		Password:       password,
		InternalName:   r.databaseName,
		BackupSchedule: schedule,
		Endpoint:       serviceEndpoint(service),
	}
	return inst, nil
}

// List returns every managed instance in the namespace, sorted by
// name.
func (o *Orchestrator) List(ctx context.Context) ([]database.Instance, error) {
	workloads, err := o.client.ListStatefulSets(ctx, kubernetes.ManagedWorkloadSelector())
	if err != nil {
		return nil, errors.Annotate(err, "listing workloads")
	}
	instances := make([]database.Instance, 0, len(workloads))
	for i := range workloads {
		inst := o.instanceFromWorkload(ctx, &workloads[i])
		instances = append(instances, *inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Name < instances[j].Name
	})
	return instances, nil
}

// Get returns the named instance.
func (o *Orchestrator) Get(ctx context.Context, name string) (*database.Instance, error) {
	if err := kubernetes.ValidateInstanceName(name); err != nil {
		return nil, errors.Trace(err)
	}
	workload, err := o.client.GetStatefulSet(ctx, kubernetes.StatefulSetName(name))
	if errors.Is(err, errors.NotFound) {
		return nil, errors.NotFoundf("database %q", name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return o.instanceFromWorkload(ctx, workload), nil
}

// Delete removes the named instance and all of its resources. The
// workload delete uses foreground propagation so pods are torn down
// with it; stored backups are removed in the background afterwards.
func (o *Orchestrator) Delete(ctx context.Context, name string) error {
	if err := kubernetes.ValidateInstanceName(name); err != nil {
		return errors.Trace(err)
	}
	workload, err := o.client.GetStatefulSet(ctx, kubernetes.StatefulSetName(name))
	if errors.Is(err, errors.NotFound) {
		return errors.NotFoundf("database %q", name)
	}
	if err != nil {
		return errors.Trace(err)
	}

	// Capture what teardown needs before resources start vanishing.
	var volumeName string
	if tag := workload.Labels[kubernetes.LabelEngine]; tag != "" {
		if strategy, err := engine.ForEngine(database.Engine(tag)); err == nil {
			volumeName = strategy.VolumeName()
		}
	}
	if volumeName == "" {
		logger.Warningf("workload for %q has no recognised engine label, leaving its data volume claim behind", name)
	}
	var internalName string
	if secret, err := o.client.GetSecret(ctx, kubernetes.SecretName(name)); err == nil {
		internalName = string(secret.Data[engine.SecretKeyDatabase])
	}

	if err := o.client.DeleteStatefulSet(ctx, workload.Name); err != nil {
		return errors.Annotate(err, "deleting workload")
	}
	if err := o.client.DeleteService(ctx, kubernetes.ServiceName(name)); err != nil {
		return errors.Annotate(err, "deleting service")
	}
	if err := o.client.DeleteCronJob(ctx, kubernetes.CronJobName(name)); err != nil {
		return errors.Annotate(err, "deleting scheduled backup")
	}
	if err := o.client.DeleteSecret(ctx, kubernetes.SecretName(name)); err != nil {
		return errors.Annotate(err, "deleting credentials secret")
	}
	if volumeName != "" {
		claim := kubernetes.VolumeClaimName(volumeName, name)
		if err := o.client.DeletePersistentVolumeClaim(ctx, claim); err != nil {
			return errors.Annotate(err, "deleting data volume claim")
		}
	}

	logger.Infof("deleted database %q", name)
	o.removeArtifacts(name, internalName)
	return nil
}

// removeArtifacts deletes an instance's stored backups in the
// background. The deletion of the instance itself never waits on or
// fails with artifact removal.
func (o *Orchestrator) removeArtifacts(name, internalName string) {
	if o.artifacts == nil || internalName == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), artifactCleanupTimeout)
		defer cancel()
		err := retry.Call(retry.CallArgs{
			Func: func() error {
				return o.artifacts.DeleteAll(ctx, internalName)
			},
			NotifyFunc: func(err error, attempt int) {
				logger.Debugf("removing stored backups for %q, attempt %d: %v", name, attempt, err)
			},
			Attempts: artifactCleanupAttempts,
			Delay:    artifactCleanupDelay,
			Clock:    o.clock,
			Stop:     ctx.Done(),
		})
		if err != nil {
			logger.Errorf("unable to remove stored backups for %q: %v", name, err)
		}
	}()
}

// instanceFromWorkload reconstructs an instance from its workload,
// decorated best effort from the instance's secret and service. A
// half-deleted instance still lists, just with less detail.
func (o *Orchestrator) instanceFromWorkload(ctx context.Context, workload *appsv1.StatefulSet) *database.Instance {
	name := workload.Labels[kubernetes.LabelApp]
	if name == "" {
		name = kubernetes.InstanceFromStatefulSetName(workload.Name)
	}
	inst := &database.Instance{
		Name:   name,
		Engine: database.Engine(workload.Labels[kubernetes.LabelEngine]),
		Status: workloadStatus(workload),
	}
	if containers := workload.Spec.Template.Spec.Containers; len(containers) > 0 {
		inst.Version = imageTag(containers[0].Image)
	}

	secret, err := o.client.GetSecret(ctx, kubernetes.SecretName(name))
	if err != nil {
		logger.Debugf("no credentials secret for %q: %v", name, err)
	} else {
		inst.Username = string(secret.Data[engine.SecretKeyUsername])
		inst.Password = string(secret.Data[engine.SecretKeyPassword])
		inst.InternalName = string(secret.Data[engine.SecretKeyDatabase])
		inst.BackupSchedule = string(secret.Data[engine.SecretKeyBackupSchedule])
		if version := string(secret.Data[engine.SecretKeyVersion]); version != "" {
			inst.Version = version
		}
	}

	service, err := o.client.GetService(ctx, kubernetes.ServiceName(name))
	if err != nil {
		logger.Debugf("no service for %q: %v", name, err)
	} else {
		inst.Endpoint = serviceEndpoint(service)
	}
	return inst
}

// workloadStatus derives lifecycle state from replica counts. A
// workload is Running only when every desired replica reports ready.
func workloadStatus(workload *appsv1.StatefulSet) database.Status {
	desired := int32(1)
	if workload.Spec.Replicas != nil {
		desired = *workload.Spec.Replicas
	}
	if desired > 0 && workload.Status.ReadyReplicas == desired {
		return database.StatusRunning
	}
	return database.StatusPending
}

// serviceEndpoint returns the service's cluster address, or nil while
// no IP is assigned.
func serviceEndpoint(service *corev1.Service) *database.Endpoint {
	ip := service.Spec.ClusterIP
	if ip == "" || ip == corev1.ClusterIPNone || len(service.Spec.Ports) == 0 {
		return nil
	}
	return &database.Endpoint{
		IP:   ip,
		Port: service.Spec.Ports[0].Port,
	}
}

// imageTag extracts the version tag from an image reference.
func imageTag(image string) string {
	if i := strings.LastIndex(image, ":"); i >= 0 {
		return image[i+1:]
	}
	return ""
}
