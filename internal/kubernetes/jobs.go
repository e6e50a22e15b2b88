// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"

	"github.com/juju/errors"
	batchv1 "k8s.io/api/batch/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CreateJob creates a one-off job run.
func (c *Client) CreateJob(ctx context.Context, spec *batchv1.Job) (*batchv1.Job, error) {
	out, err := c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, spec, metav1.CreateOptions{
		FieldManager: fieldManager,
	})
	if k8serrors.IsAlreadyExists(err) {
		return nil, errors.AlreadyExistsf("job %q", spec.GetName())
	}
	if k8serrors.IsInvalid(err) {
		return nil, errors.NotValidf("job %q", spec.GetName())
	}
	return out, errors.Trace(err)
}
