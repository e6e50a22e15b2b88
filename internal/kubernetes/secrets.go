// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
)

// fieldManager identifies this service in managed field metadata.
const fieldManager = "wharfkeep"

// CreateSecret creates the secret, failing when it already exists.
// Instance creation relies on this for its identity check.
func (c *Client) CreateSecret(ctx context.Context, spec *corev1.Secret) (*corev1.Secret, error) {
	out, err := c.clientset.CoreV1().Secrets(c.namespace).Create(ctx, spec, metav1.CreateOptions{
		FieldManager: fieldManager,
	})
	if k8serrors.IsAlreadyExists(err) {
		return nil, errors.AlreadyExistsf("secret %q", spec.GetName())
	}
	if k8serrors.IsInvalid(err) {
		return nil, errors.NotValidf("secret %q", spec.GetName())
	}
	return out, errors.Trace(err)
}

// EnsureSecret patches the secret into the desired state, creating it
// when absent. Last writer wins over the patched keys.
func (c *Client) EnsureSecret(ctx context.Context, spec *corev1.Secret) error {
	api := c.clientset.CoreV1().Secrets(c.namespace)
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, spec)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = api.Patch(ctx, spec.GetName(), types.StrategicMergePatchType, data, metav1.PatchOptions{
		FieldManager: fieldManager,
	})
	if k8serrors.IsNotFound(err) {
		_, err = api.Create(ctx, spec, metav1.CreateOptions{
			FieldManager: fieldManager,
		})
	}
	return errors.Trace(err)
}

// GetSecret returns the named secret.
func (c *Client) GetSecret(ctx context.Context, name string) (*corev1.Secret, error) {
	out, err := c.clientset.CoreV1().Secrets(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return nil, errors.NotFoundf("secret %q", name)
	}
	return out, errors.Trace(err)
}

// DeleteSecret removes the named secret. Absence is not an error.
func (c *Client) DeleteSecret(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Secrets(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return errors.Trace(err)
}
