// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"context"
	"io"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"
)

// LogStreamOptions controls a container log stream.
type LogStreamOptions struct {
	// Follow keeps the stream open for new lines.
	Follow bool

	// TailLines limits the stream to the most recent lines; zero
	// streams the full retained log.
	TailLines int64
}

// WorkloadPod returns the pod backing the instance workload,
// preferring a running one when a rollout leaves several behind.
func (c *Client) WorkloadPod(ctx context.Context, instance string) (*corev1.Pod, error) {
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelsToSelector(SelectorLabels(instance)),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(pods.Items) == 0 {
		return nil, errors.NotFoundf("pod for instance %q", instance)
	}
	for i := range pods.Items {
		if pods.Items[i].Status.Phase == corev1.PodRunning {
			return &pods.Items[i], nil
		}
	}
	return &pods.Items[0], nil
}

// PodLogs opens a timestamped log stream for the named pod's primary
// container. The caller owns the returned stream and must close it;
// cancelling ctx also tears it down.
func (c *Client) PodLogs(ctx context.Context, podName string, opts LogStreamOptions) (io.ReadCloser, error) {
	logOpts := &corev1.PodLogOptions{
		Follow:     opts.Follow,
		Timestamps: true,
	}
	if opts.TailLines > 0 {
		logOpts.TailLines = pointer.Int64Ptr(opts.TailLines)
	}
	stream, err := c.clientset.CoreV1().Pods(c.namespace).GetLogs(podName, logOpts).Stream(ctx)
	if k8serrors.IsNotFound(err) {
		return nil, errors.NotFoundf("pod %q", podName)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return stream, nil
}
