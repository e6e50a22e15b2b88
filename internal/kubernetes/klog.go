// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package kubernetes

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/juju/loggo/v2"
	"k8s.io/klog/v2"
)

// SetupKlog forces klog output from client-go through loggo so the
// cluster client obeys the process logging configuration.
func SetupKlog() {
	klog.SetLogger(logr.New(&klogAdapter{
		logger: loggo.GetLogger("wharfkeep.kubernetes.klog"),
	}))
}

// klogAdapter is an adapter for the Kubernetes logger onto loggo.
// Verbose klog levels map to debug so client-go detail stays out of
// the default output.
type klogAdapter struct {
	logger loggo.Logger
	values []interface{}
}

// Init implements logr.LogSink.
func (k *klogAdapter) Init(info logr.RuntimeInfo) {}

// Enabled implements logr.LogSink.
func (k *klogAdapter) Enabled(level int) bool {
	if level > 0 {
		return k.logger.IsDebugEnabled()
	}
	return k.logger.IsInfoEnabled()
}

// Info implements logr.LogSink.
func (k *klogAdapter) Info(level int, msg string, keysAndValues ...interface{}) {
	if level > 0 {
		k.logger.Debugf("%s", k.render(msg, keysAndValues))
		return
	}
	k.logger.Infof("%s", k.render(msg, keysAndValues))
}

// Error implements logr.LogSink.
func (k *klogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	k.logger.Errorf("%s", k.render(msg, keysAndValues))
}

// WithValues implements logr.LogSink.
func (k *klogAdapter) WithValues(keysAndValues ...interface{}) logr.LogSink {
	child := *k
	child.values = append(append([]interface{}(nil), k.values...), keysAndValues...)
	return &child
}

// WithName implements logr.LogSink.
func (k *klogAdapter) WithName(name string) logr.LogSink {
	return k
}

// render appends accumulated key/value pairs to the message.
func (k *klogAdapter) render(msg string, keysAndValues []interface{}) string {
	pairs := append(append([]interface{}(nil), k.values...), keysAndValues...)
	if len(pairs) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(pairs); i += 2 {
		if i+1 < len(pairs) {
			fmt.Fprintf(&b, " %v=%v", pairs[i], pairs[i+1])
		} else {
			fmt.Fprintf(&b, " %v", pairs[i])
		}
	}
	return b.String()
}
