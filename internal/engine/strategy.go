// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package engine holds the per-engine policy for managed database
// instances. A Strategy answers every engine-specific question the
// rest of the system has: which image to run, how to probe it, how to
// dump and restore it, and what a scheduled backup job looks like.
// Strategies are stateless; all state lives in the cluster.
package engine

import (
	"fmt"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"

	"github.com/wharfkeep/wharfkeep/core/database"
)

// ErrUnknown is returned when no strategy is registered for a
// requested engine tag.
const ErrUnknown = errors.ConstError("unknown database engine")

// Keys under which instance credentials and metadata are stored in the
// per-instance secret. Strategies reference them from container env
// specs; the orchestrator reads them back when decorating listings.
const (
	SecretKeyUsername       = "username"
	SecretKeyPassword       = "password"
	SecretKeyDatabase       = "database"
	SecretKeyVersion        = "version"
	SecretKeyBackupSchedule = "backup-schedule"
)

// BackupJob describes the container run by a scheduled backup. Env
// is merged with the shared object-store credentials at render time.
type BackupJob struct {
	Image   string
	Command []string
	Env     []corev1.EnvVar
}

// Strategy is the complete engine-specific policy for one database
// engine. Command methods return argv slices executed in the
// workload's primary container; optional commands report ok=false
// when the engine has none.
type Strategy interface {
	// Engine returns the tag this strategy serves.
	Engine() database.Engine

	// DefaultVersion is used when a create request names no version.
	DefaultVersion() string

	// ImageFor returns the container image for the given version.
	ImageFor(version string) string

	// DefaultPort is the port the engine listens on and the service
	// exposes.
	DefaultPort() int32

	// VolumeName names the data volume; it prefixes the PVC that the
	// stateful workload's volume claim template produces.
	VolumeName() string

	// VolumeMounts returns the data volume mounts for the primary
	// container.
	VolumeMounts() []corev1.VolumeMount

	// ContainerEnv returns the primary container environment, with
	// credentials referenced from the named instance secret rather
	// than inlined.
	ContainerEnv(secretName string) []corev1.EnvVar

	// ContainerArgs returns extra args for the primary container, or
	// nil to run the image's default entrypoint unmodified.
	ContainerArgs() []string

	// ReadinessProbe reports when the engine accepts connections.
	ReadinessProbe() *corev1.Probe

	// GenerateUsername produces the username provisioned for a new
	// instance.
	GenerateUsername() (string, error)

	// NormalizeDatabaseName maps a requested instance name onto an
	// identifier the engine accepts. It is deterministic and
	// idempotent.
	NormalizeDatabaseName(requested string) string

	// DumpCommand emits a full logical backup on stdout.
	DumpCommand() []string

	// RestoreCommand consumes a dump from stdin.
	RestoreCommand() []string

	// PreRestoreCommand runs before a restore, best effort.
	PreRestoreCommand() ([]string, bool)

	// PostRestoreCommand runs after a restore stream completes, best
	// effort. Engines whose restore only takes effect on process
	// restart use this to trigger the restart.
	PostRestoreCommand() ([]string, bool)

	// DumpFileExtension is the artifact filename extension, without
	// the dot.
	DumpFileExtension() string

	// BackupJobSpec describes the scheduled backup container, or nil
	// when the engine has no scheduled backup support. The job dials
	// the instance through its service, with credentials from the
	// instance secret.
	BackupJobSpec(serviceName, secretName, version string) *BackupJob
}

// ForEngine resolves the strategy for the given engine tag.
func ForEngine(e database.Engine) (Strategy, error) {
	switch e {
	case database.EnginePostgres:
		return postgresStrategy{}, nil
	case database.EngineRedis:
		return redisStrategy{}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknown, string(e))
}

// secretEnv returns an env var sourced from a key of the named secret.
func secretEnv(name, secretName, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
				Key:                  key,
			},
		},
	}
}
