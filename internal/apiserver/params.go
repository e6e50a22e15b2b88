// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"time"

	"github.com/wharfkeep/wharfkeep/core/database"
)

// ContentTypeJSON is the content type served by the non-streaming
// endpoints.
const ContentTypeJSON = "application/json"

// ErrorResult is the JSON envelope rendered for every failed request.
type ErrorResult struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreateDatabaseArgs is the body of a provisioning request. Version
// and BackupSchedule fall back to engine and service defaults when
// omitted.
type CreateDatabaseArgs struct {
	Name           string `json:"name"`
	Engine         string `json:"engine"`
	Version        string `json:"version,omitempty"`
	BackupSchedule string `json:"backup-schedule,omitempty"`
}

// EndpointResult is the in-cluster address of a running instance.
type EndpointResult struct {
	IP   string `json:"ip"`
	Port int32  `json:"port"`
}

// DatabaseResult describes one instance. The credential fields are
// decoded from cluster state at read time and are omitted when that
// state is unavailable, for example mid-deletion.
type DatabaseResult struct {
	Name           string          `json:"name"`
	Engine         string          `json:"engine"`
	Version        string          `json:"version,omitempty"`
	Status         string          `json:"status"`
	Username       string          `json:"username,omitempty"`
	Password       string          `json:"password,omitempty"`
	InternalName   string          `json:"internal-name,omitempty"`
	BackupSchedule string          `json:"backup-schedule,omitempty"`
	Endpoint       *EndpointResult `json:"endpoint,omitempty"`
}

// DatabaseListResult holds the instances returned by a listing.
type DatabaseListResult struct {
	Databases []DatabaseResult `json:"databases"`
}

// BackupResult describes one stored backup artifact.
type BackupResult struct {
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last-modified"`
}

// BackupListResult holds the artifacts returned by a listing, newest
// first.
type BackupListResult struct {
	Backups []BackupResult `json:"backups"`
}

// BackupTriggeredResult reports the job created for a manual backup.
type BackupTriggeredResult struct {
	Job string `json:"job"`
}

// RestoreResult reports the artifact a restore replayed.
type RestoreResult struct {
	Restored string `json:"restored"`
}

// PruneResult reports how many artifacts a prune removed.
type PruneResult struct {
	Deleted int `json:"deleted"`
}

// HealthResult is the liveness response.
type HealthResult struct {
	Status string `json:"status"`
}

func databaseResult(inst database.Instance) DatabaseResult {
	result := DatabaseResult{
		Name:           inst.Name,
		Engine:         inst.Engine.String(),
		Version:        inst.Version,
		Status:         string(inst.Status),
		Username:       inst.Username,
		Password:       inst.Password,
		InternalName:   inst.InternalName,
		BackupSchedule: inst.BackupSchedule,
	}
	if inst.Endpoint != nil {
		result.Endpoint = &EndpointResult{
			IP:   inst.Endpoint.IP,
			Port: inst.Endpoint.Port,
		}
	}
	return result
}

func backupResult(artifact database.Artifact) BackupResult {
	return BackupResult{
		Filename:     artifact.Filename,
		Size:         artifact.Size,
		LastModified: artifact.LastModified,
	}
}
