// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"strings"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"

	"github.com/wharfkeep/wharfkeep/core/database"
)

const (
	postgresDefaultVersion = "16"
	postgresPort           = 5432
	postgresVolume         = "pgdata"

	// The image initializes PGDATA; pointing it below the mount keeps
	// initdb away from the volume's lost+found directory.
	postgresDataDir = "/var/lib/postgresql/data/pgdata"
)

// postgresStrategy runs the official postgres image. The user created
// from POSTGRES_USER is a superuser, and the image's pg_hba trusts
// local socket connections, so in-container maintenance commands need
// no password.
type postgresStrategy struct{}

func (postgresStrategy) Engine() database.Engine { return database.EnginePostgres }

func (postgresStrategy) DefaultVersion() string { return postgresDefaultVersion }

func (postgresStrategy) ImageFor(version string) string { return "postgres:" + version }

func (postgresStrategy) DefaultPort() int32 { return postgresPort }

func (postgresStrategy) VolumeName() string { return postgresVolume }

func (postgresStrategy) VolumeMounts() []corev1.VolumeMount {
	return []corev1.VolumeMount{{
		Name:      postgresVolume,
		MountPath: "/var/lib/postgresql/data",
	}}
}

func (postgresStrategy) ContainerEnv(secretName string) []corev1.EnvVar {
	return []corev1.EnvVar{
		secretEnv("POSTGRES_USER", secretName, SecretKeyUsername),
		secretEnv("POSTGRES_PASSWORD", secretName, SecretKeyPassword),
		secretEnv("POSTGRES_DB", secretName, SecretKeyDatabase),
		{Name: "PGDATA", Value: postgresDataDir},
	}
}

func (postgresStrategy) ContainerArgs() []string { return nil }

func (postgresStrategy) ReadinessProbe() *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			Exec: &corev1.ExecAction{
				Command: []string{"sh", "-c", `pg_isready --username "$POSTGRES_USER" --dbname "$POSTGRES_DB"`},
			},
		},
		InitialDelaySeconds: 5,
		PeriodSeconds:       10,
		TimeoutSeconds:      5,
		FailureThreshold:    3,
	}
}

func (postgresStrategy) GenerateUsername() (string, error) {
	suffix, err := randomChars(8, lowerAlphanumeric)
	if err != nil {
		return "", errors.Trace(err)
	}
	return "pguser_" + suffix, nil
}

// NormalizeDatabaseName maps an instance name onto a valid postgres
// identifier: lowercased, anything outside [a-z0-9_] replaced with an
// underscore, and a db_ prefix when the result would start with a
// digit.
func (postgresStrategy) NormalizeDatabaseName(requested string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(requested) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		return "db"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "db_" + name
	}
	return name
}

func (postgresStrategy) DumpCommand() []string {
	return []string{"sh", "-c", `pg_dump --clean --if-exists --username "$POSTGRES_USER" "$POSTGRES_DB"`}
}

func (postgresStrategy) RestoreCommand() []string {
	return []string{"sh", "-c", `psql --quiet --username "$POSTGRES_USER" --dbname "$POSTGRES_DB"`}
}

// PreRestoreCommand terminates every other session on the target
// database so the dump's DROP statements do not block on locks. It
// connects to the maintenance database because the target's own
// sessions are about to go away.
func (postgresStrategy) PreRestoreCommand() ([]string, bool) {
	return []string{"sh", "-c", `psql --username "$POSTGRES_USER" --dbname postgres --command "SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '$POSTGRES_DB' AND pid <> pg_backend_pid()"`}, true
}

func (postgresStrategy) PostRestoreCommand() ([]string, bool) { return nil, false }

func (postgresStrategy) DumpFileExtension() string { return "sql" }

// BackupJobSpec pipes pg_dump straight into the object store. The
// image bundles the postgres client and the aws CLI; object-store
// location and credentials arrive via the shared secret merged in at
// render time.
func (postgresStrategy) BackupJobSpec(serviceName, secretName, version string) *BackupJob {
	return &BackupJob{
		Image: "wharfkeep/postgres-backup:" + majorVersion(version),
		Command: []string{"sh", "-c",
			`pg_dump --clean --if-exists | aws s3 cp - "s3://$S3_BUCKET/$PGDATABASE/backup_$(date -u +%Y-%m-%dT%H-%M-%SZ).sql" --endpoint-url "$S3_ENDPOINT"`,
		},
		Env: []corev1.EnvVar{
			{Name: "PGHOST", Value: serviceName},
			secretEnv("PGUSER", secretName, SecretKeyUsername),
			secretEnv("PGPASSWORD", secretName, SecretKeyPassword),
			secretEnv("PGDATABASE", secretName, SecretKeyDatabase),
		},
	}
}

func majorVersion(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
