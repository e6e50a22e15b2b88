// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	k8slabels "k8s.io/apimachinery/pkg/labels"

	"github.com/wharfkeep/wharfkeep/core/database"
)

const (
	// LabelApp carries the instance name on every managed resource.
	LabelApp = "app"

	// LabelManaged marks resources owned by this service.
	LabelManaged = "wharfkeep.io/managed"

	// LabelEngine carries the database engine on the workload so
	// later operations can resolve engine policy without the caller
	// knowing it.
	LabelEngine = "wharfkeep.io/engine"

	labelManagedValue = "true"
)

// InstanceLabels returns the labels carried by every resource of an
// instance.
func InstanceLabels(instance string) map[string]string {
	return map[string]string{
		LabelApp:     instance,
		LabelManaged: labelManagedValue,
	}
}

// WorkloadLabels returns InstanceLabels plus the engine marker carried
// only by the workload.
func WorkloadLabels(instance string, engine database.Engine) map[string]string {
	labels := InstanceLabels(instance)
	labels[LabelEngine] = string(engine)
	return labels
}

// SelectorLabels returns the labels the service selector and the pod
// template share.
func SelectorLabels(instance string) map[string]string {
	return map[string]string{LabelApp: instance}
}

// ManagedWorkloadSelector selects every workload owned by this
// service.
func ManagedWorkloadSelector() string {
	return labelsToSelector(map[string]string{LabelManaged: labelManagedValue})
}

// InstanceSelector selects the resources of one instance.
func InstanceSelector(instance string) string {
	return labelsToSelector(InstanceLabels(instance))
}

func labelsToSelector(labels map[string]string) string {
	return k8slabels.SelectorFromValidatedSet(labels).String()
}
