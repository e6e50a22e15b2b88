// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package exec

import (
	"github.com/juju/errors"
	k8sexec "k8s.io/client-go/util/exec"
)

// ExitError exposes what we need from the k8s exec exit error: the
// remote command ran and returned a non-zero status.
type ExitError interface {
	error
	String() string
	ExitStatus() int
}

var _ ExitError = k8sexec.CodeExitError{}

// IsExitError reports whether err means the remote command itself
// failed, as opposed to the channel to it.
func IsExitError(err error) bool {
	_, ok := errors.Cause(err).(ExitError)
	return ok
}
