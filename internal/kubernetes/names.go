// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// SharedObjectStoreSecretName is the namespace-level secret holding
// object-store credentials, consumed by scheduled backup jobs via
// envFrom.
const SharedObjectStoreSecretName = "wharfkeep-objectstore"

// maxInstanceNameLength leaves room for the resource name suffixes and
// the volume claim prefix within the cluster's 63 character limit.
const maxInstanceNameLength = 40

// SecretName returns the per-instance credentials secret name.
func SecretName(instance string) string { return instance + "-secret" }

// ServiceName returns the instance's service name, which is also its
// in-cluster DNS host.
func ServiceName(instance string) string { return instance + "-service" }

// StatefulSetName returns the instance's workload name.
func StatefulSetName(instance string) string { return instance + "-statefulset" }

// InstanceFromStatefulSetName is the inverse of StatefulSetName, used
// when a workload carries no instance label.
func InstanceFromStatefulSetName(name string) string {
	return strings.TrimSuffix(name, "-statefulset")
}

// CronJobName returns the instance's scheduled backup name.
func CronJobName(instance string) string { return instance + "-backup" }

// VolumeClaimName returns the claim created by the workload's volume
// claim template for the single replica. It must be deleted explicitly
// on teardown; the workload controller never does.
func VolumeClaimName(volume, instance string) string {
	return fmt.Sprintf("%s-%s-0", volume, StatefulSetName(instance))
}

// ManualBackupJobName returns a unique name for an on-demand backup
// run cloned from the scheduled job.
func ManualBackupJobName(instance string, now time.Time) string {
	return fmt.Sprintf("%s-backup-manual-%d", instance, now.Unix())
}

// ValidateInstanceName rejects names that cannot become cluster
// resource names.
func ValidateInstanceName(name string) error {
	if name == "" {
		return errors.NotValidf("empty instance name")
	}
	if len(name) > maxInstanceNameLength {
		return errors.NotValidf("instance name %q longer than %d characters", name, maxInstanceNameLength)
	}
	if !names.IsValidApplication(name) {
		return errors.NotValidf("instance name %q", name)
	}
	return nil
}
