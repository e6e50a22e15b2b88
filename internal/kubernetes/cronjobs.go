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

// CreateCronJob creates the scheduled backup.
func (c *Client) CreateCronJob(ctx context.Context, spec *batchv1.CronJob) (*batchv1.CronJob, error) {
	out, err := c.clientset.BatchV1().CronJobs(c.namespace).Create(ctx, spec, metav1.CreateOptions{
		FieldManager: fieldManager,
	})
	if k8serrors.IsAlreadyExists(err) {
		return nil, errors.AlreadyExistsf("cron job %q", spec.GetName())
	}
	if k8serrors.IsInvalid(err) {
		return nil, errors.NotValidf("cron job %q", spec.GetName())
	}
	return out, errors.Trace(err)
}

// GetCronJob returns the named scheduled backup.
func (c *Client) GetCronJob(ctx context.Context, name string) (*batchv1.CronJob, error) {
	out, err := c.clientset.BatchV1().CronJobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return nil, errors.NotFoundf("cron job %q", name)
	}
	return out, errors.Trace(err)
}

// DeleteCronJob removes the named scheduled backup and, through
// background propagation, any runs it spawned. Absence is not an
// error.
func (c *Client) DeleteCronJob(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().CronJobs(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return errors.Trace(err)
}
