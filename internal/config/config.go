// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads and validates the process configuration. Values
// come from an optional YAML file overridden by environment variables;
// validation happens exactly once, at startup, so the rest of the
// system can assume a usable object store and namespace.
package config

import (
	"os"
	"strconv"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultNamespace is the cluster namespace used when none is
	// configured.
	DefaultNamespace = "default"

	// DefaultListenAddr is the HTTP listen address.
	DefaultListenAddr = ":8080"

	// DefaultRegion is used for object stores that do not care about
	// regions (minio and friends) but whose SDK insists on one.
	DefaultRegion = "us-east-1"

	// DefaultBucket is the object-store bucket holding backup
	// artifacts.
	DefaultBucket = "wharfkeep-backups"

	// DefaultBackupSchedule is the cron expression applied to new
	// instances that do not request their own.
	DefaultBackupSchedule = "0 3 * * *"

	// MinPasswordLength is the floor applied to generated credential
	// lengths regardless of configuration.
	MinPasswordLength = 16

	// DefaultLoggingConfig is handed to loggo when the environment
	// does not override it.
	DefaultLoggingConfig = "<root>=INFO"
)

// ObjectStore is the S3-compatible store configuration. Endpoint and
// both credential halves are mandatory; everything else has defaults.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
}

// Config is the full process configuration.
type Config struct {
	Namespace      string      `yaml:"namespace"`
	ListenAddr     string      `yaml:"listen-addr"`
	KubeConfigPath string      `yaml:"kubeconfig"`
	LoggingConfig  string      `yaml:"logging-config"`
	PasswordLength int         `yaml:"password-length"`
	BackupSchedule string      `yaml:"backup-schedule"`
	ObjectStore    ObjectStore `yaml:"object-store"`
}

// Default returns a Config populated with every default value.
func Default() Config {
	return Config{
		Namespace:      DefaultNamespace,
		ListenAddr:     DefaultListenAddr,
		LoggingConfig:  DefaultLoggingConfig,
		PasswordLength: MinPasswordLength,
		BackupSchedule: DefaultBackupSchedule,
		ObjectStore: ObjectStore{
			Region: DefaultRegion,
			Bucket: DefaultBucket,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML
// file at path (when non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Annotatef(err, "reading config file %q", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parsing config file %q", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfPresent := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIfPresent(&c.Namespace, "WHARFKEEP_NAMESPACE")
	setIfPresent(&c.ListenAddr, "WHARFKEEP_LISTEN")
	setIfPresent(&c.KubeConfigPath, "KUBECONFIG")
	setIfPresent(&c.LoggingConfig, "WHARFKEEP_LOG_CONFIG")
	setIfPresent(&c.BackupSchedule, "WHARFKEEP_BACKUP_SCHEDULE")
	setIfPresent(&c.ObjectStore.Endpoint, "S3_ENDPOINT")
	setIfPresent(&c.ObjectStore.Region, "S3_REGION")
	setIfPresent(&c.ObjectStore.Bucket, "S3_BUCKET")
	setIfPresent(&c.ObjectStore.AccessKey, "S3_ACCESS_KEY")
	setIfPresent(&c.ObjectStore.SecretKey, "S3_SECRET_KEY")
	if v := os.Getenv("WHARFKEEP_PASSWORD_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PasswordLength = n
		}
	}
}

// Validate checks the configuration the service cannot run without.
// Generated password length is clamped rather than rejected.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errors.NotValidf("empty namespace")
	}
	if c.ListenAddr == "" {
		return errors.NotValidf("empty listen address")
	}
	if c.ObjectStore.Endpoint == "" {
		return errors.NotValidf("missing object store endpoint")
	}
	if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
		return errors.NotValidf("missing object store credentials")
	}
	if c.ObjectStore.Bucket == "" {
		return errors.NotValidf("missing object store bucket")
	}
	if c.PasswordLength < MinPasswordLength {
		c.PasswordLength = MinPasswordLength
	}
	return nil
}
