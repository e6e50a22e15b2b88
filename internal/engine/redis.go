// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/wharfkeep/wharfkeep/core/database"
)

const (
	redisDefaultVersion = "7"
	redisPort           = 6379
	redisVolume         = "redisdata"
	redisDataDir        = "/data"
)

// redisStrategy runs the official redis image with requirepass auth.
// Persistence is RDB snapshots only; restore swaps the dump file and
// restarts the server so it loads on boot.
type redisStrategy struct{}

func (redisStrategy) Engine() database.Engine { return database.EngineRedis }

func (redisStrategy) DefaultVersion() string { return redisDefaultVersion }

func (redisStrategy) ImageFor(version string) string { return "redis:" + version }

func (redisStrategy) DefaultPort() int32 { return redisPort }

func (redisStrategy) VolumeName() string { return redisVolume }

func (redisStrategy) VolumeMounts() []corev1.VolumeMount {
	return []corev1.VolumeMount{{
		Name:      redisVolume,
		MountPath: redisDataDir,
	}}
}

func (redisStrategy) ContainerEnv(secretName string) []corev1.EnvVar {
	return []corev1.EnvVar{
		secretEnv("REDIS_PASSWORD", secretName, SecretKeyPassword),
	}
}

// ContainerArgs enables auth without the password ever appearing in
// the pod spec; $(REDIS_PASSWORD) is expanded by the kubelet from the
// secret-sourced env var.
func (redisStrategy) ContainerArgs() []string {
	return []string{"redis-server", "--requirepass", "$(REDIS_PASSWORD)", "--dir", redisDataDir}
}

func (redisStrategy) ReadinessProbe() *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			Exec: &corev1.ExecAction{
				Command: []string{"sh", "-c", `redis-cli -a "$REDIS_PASSWORD" --no-auth-warning ping`},
			},
		},
		InitialDelaySeconds: 5,
		PeriodSeconds:       10,
		TimeoutSeconds:      5,
		FailureThreshold:    3,
	}
}

// GenerateUsername returns the ACL default user; requirepass auth has
// no per-instance usernames.
func (redisStrategy) GenerateUsername() (string, error) { return "default", nil }

func (redisStrategy) NormalizeDatabaseName(requested string) string {
	return strings.ToLower(requested)
}

func (redisStrategy) DumpCommand() []string {
	return []string{"sh", "-c", `redis-cli -a "$REDIS_PASSWORD" --no-auth-warning --rdb -`}
}

// RestoreCommand only stages the dump file; the server keeps serving
// its old dataset until PostRestoreCommand restarts it.
func (redisStrategy) RestoreCommand() []string {
	return []string{"sh", "-c", `cat > /data/dump.rdb`}
}

// PreRestoreCommand drops client connections so nothing writes
// between staging the dump and the restart. The kill skips the
// issuing connection.
func (redisStrategy) PreRestoreCommand() ([]string, bool) {
	return []string{"sh", "-c", `redis-cli -a "$REDIS_PASSWORD" --no-auth-warning client kill type normal`}, true
}

// PostRestoreCommand stops the server without a final save; the
// workload controller restarts the container, which loads the staged
// dump file.
func (redisStrategy) PostRestoreCommand() ([]string, bool) {
	return []string{"sh", "-c", `redis-cli -a "$REDIS_PASSWORD" --no-auth-warning shutdown nosave`}, true
}

func (redisStrategy) DumpFileExtension() string { return "rdb" }

// BackupJobSpec reports no scheduled backup support; RDB streaming
// needs an exec channel, which a batch job container does not have.
func (redisStrategy) BackupJobSpec(serviceName, secretName, version string) *BackupJob {
	return nil
}
