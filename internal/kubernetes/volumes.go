// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"

	"github.com/juju/errors"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DeletePersistentVolumeClaim removes the named claim. The workload
// controller leaves claims from its volume claim templates behind, so
// teardown calls this explicitly. Absence is not an error.
func (c *Client) DeletePersistentVolumeClaim(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().PersistentVolumeClaims(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return errors.Trace(err)
}
