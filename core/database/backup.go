// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"time"
)

// Artifact is one stored backup object. Key is the full object-store
// key ({internalName}/{filename}); Filename is the final path element
// used in the HTTP surface.
type Artifact struct {
	Key          string
	Filename     string
	Size         int64
	LastModified time.Time
}
