// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"

	"github.com/juju/errors"
	appsv1 "k8s.io/api/apps/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CreateStatefulSet creates the workload.
func (c *Client) CreateStatefulSet(ctx context.Context, spec *appsv1.StatefulSet) (*appsv1.StatefulSet, error) {
	out, err := c.clientset.AppsV1().StatefulSets(c.namespace).Create(ctx, spec, metav1.CreateOptions{
		FieldManager: fieldManager,
	})
	if k8serrors.IsAlreadyExists(err) {
		return nil, errors.AlreadyExistsf("stateful set %q", spec.GetName())
	}
	if k8serrors.IsInvalid(err) {
		return nil, errors.NotValidf("stateful set %q", spec.GetName())
	}
	return out, errors.Trace(err)
}

// GetStatefulSet returns the named workload.
func (c *Client) GetStatefulSet(ctx context.Context, name string) (*appsv1.StatefulSet, error) {
	out, err := c.clientset.AppsV1().StatefulSets(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return nil, errors.NotFoundf("stateful set %q", name)
	}
	return out, errors.Trace(err)
}

// ListStatefulSets returns the workloads matching the label selector.
func (c *Client) ListStatefulSets(ctx context.Context, selector string) ([]appsv1.StatefulSet, error) {
	list, err := c.clientset.AppsV1().StatefulSets(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return list.Items, nil
}

// DeleteStatefulSet removes the named workload with foreground
// propagation so its pods are gone before the call resolves on the
// server side. Absence is not an error.
func (c *Client) DeleteStatefulSet(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationForeground
	err := c.clientset.AppsV1().StatefulSets(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return errors.Trace(err)
}
