// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database holds the domain types shared by the provisioning
// and backup subsystems. An Instance is never persisted as a single
// record; it is reconstructed from cluster state on every read.
package database

// Engine identifies the database technology an instance runs.
type Engine string

const (
	// EnginePostgres is the relational engine.
	EnginePostgres Engine = "postgres"
	// EngineRedis is the key-value engine.
	EngineRedis Engine = "redis"
)

// String is part of the fmt.Stringer interface.
func (e Engine) String() string {
	return string(e)
}

// Status is the lifecycle state derived from the workload's replica
// counts. There is deliberately no error value here; a workload that
// cannot become ready stays Pending.
type Status string

const (
	// StatusPending means the workload exists but is not yet ready.
	StatusPending Status = "Pending"
	// StatusRunning means all desired replicas report ready.
	StatusRunning Status = "Running"
)

// Endpoint is the in-cluster address assigned to an instance once the
// network resource has an IP.
type Endpoint struct {
	IP   string
	Port int32
}

// Instance describes one provisioned database deployment. Username,
// Password, InternalName and BackupSchedule are decoded from the
// credentials secret at read time and may be empty when that secret is
// unavailable (for example mid-deletion).
type Instance struct {
	Name           string
	Engine         Engine
	Version        string
	Status         Status
	Username       string
	Password       string
	InternalName   string
	BackupSchedule string
	Endpoint       *Endpoint
}

// CreateArgs is a request to provision a new instance. Version and
// BackupSchedule fall back to engine and service defaults when unset.
type CreateArgs struct {
	Name           string
	Engine         Engine
	Version        string
	BackupSchedule string
}
