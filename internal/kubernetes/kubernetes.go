// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package kubernetes is the gateway to the cluster API. It wraps the
// typed client-go clientsets with the small, idempotent surface the
// orchestrator and pipeline need: create maps conflicts to
// already-exists errors, get maps absence to not-found errors, and
// delete of an absent resource succeeds so compensation and teardown
// can run unconditionally.
package kubernetes

import (
	"github.com/juju/loggo/v2"
	"k8s.io/client-go/kubernetes"
)

var logger = loggo.GetLogger("wharfkeep.kubernetes")

// Client performs namespaced resource operations against one cluster.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// NewClient returns a gateway over the given clientset, scoped to the
// given namespace.
func NewClient(clientset kubernetes.Interface, namespace string) *Client {
	return &Client{
		clientset: clientset,
		namespace: namespace,
	}
}

// Namespace returns the namespace all operations are scoped to.
func (c *Client) Namespace() string {
	return c.namespace
}
