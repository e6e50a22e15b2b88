// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CreateService creates the service.
func (c *Client) CreateService(ctx context.Context, spec *corev1.Service) (*corev1.Service, error) {
	out, err := c.clientset.CoreV1().Services(c.namespace).Create(ctx, spec, metav1.CreateOptions{
		FieldManager: fieldManager,
	})
	if k8serrors.IsAlreadyExists(err) {
		return nil, errors.AlreadyExistsf("service %q", spec.GetName())
	}
	if k8serrors.IsInvalid(err) {
		return nil, errors.NotValidf("service %q", spec.GetName())
	}
	return out, errors.Trace(err)
}

// GetService returns the named service.
func (c *Client) GetService(ctx context.Context, name string) (*corev1.Service, error) {
	out, err := c.clientset.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return nil, errors.NotFoundf("service %q", name)
	}
	return out, errors.Trace(err)
}

// DeleteService removes the named service. Absence is not an error.
func (c *Client) DeleteService(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Services(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return errors.Trace(err)
}
