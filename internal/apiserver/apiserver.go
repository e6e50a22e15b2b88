// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver exposes the provisioning and backup services over
// HTTP. Handlers return errors instead of writing failure responses
// themselves; a single mapper renders those errors as the JSON
// envelope and status code the client sees.
package apiserver

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/wharfkeep/wharfkeep/core/database"
	"github.com/wharfkeep/wharfkeep/internal/backups"
	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
)

var logger = loggo.GetLogger("wharfkeep.apiserver")

// DatabaseService is the provisioning surface the API serves.
type DatabaseService interface {
	// Create provisions a new instance and returns it with its
	// generated credentials.
	Create(ctx context.Context, args database.CreateArgs) (*database.Instance, error)

	// List returns every managed instance, sorted by name.
	List(ctx context.Context) ([]database.Instance, error)

	// Get returns a single instance by name.
	Get(ctx context.Context, name string) (*database.Instance, error)

	// Delete removes an instance and its dependent resources.
	Delete(ctx context.Context, name string) error
}

// BackupService is the backup, restore and streaming surface the API
// serves.
type BackupService interface {
	// TriggerManualBackup starts a one-off backup job and returns the
	// job name.
	TriggerManualBackup(ctx context.Context, name string) (string, error)

	// ListBackups returns the stored artifacts for an instance,
	// newest first.
	ListBackups(ctx context.Context, name string) ([]database.Artifact, error)

	// DeleteBackup removes one stored artifact.
	DeleteBackup(ctx context.Context, name, filename string) error

	// PruneBackups removes all but the newest keep artifacts and
	// reports how many were deleted.
	PruneBackups(ctx context.Context, name string, keep int) (int, error)

	// Restore replays a stored artifact into the live instance.
	Restore(ctx context.Context, name, filename string) error

	// StreamDump writes a fresh dump of the instance to the sink.
	StreamDump(ctx context.Context, name string, sink backups.DumpSink) error

	// StreamLogs relays container logs to w until the stream or the
	// context ends.
	StreamLogs(ctx context.Context, name string, w io.Writer, opts kubernetes.LogStreamOptions) error
}

// Params holds the collaborators a Server needs.
type Params struct {
	// Databases serves the instance lifecycle endpoints.
	Databases DatabaseService

	// Backups serves the backup, restore and streaming endpoints.
	Backups BackupService
}

// Validate returns an error when a collaborator is missing.
func (p Params) Validate() error {
	if p.Databases == nil {
		return errors.NotValidf("nil Databases")
	}
	if p.Backups == nil {
		return errors.NotValidf("nil Backups")
	}
	return nil
}

// FailableHandlerFunc is a handler that reports failure to the error
// mapper instead of writing its own error response.
type FailableHandlerFunc func(http.ResponseWriter, *http.Request) error

// Server is the http.Handler for the management API.
type Server struct {
	databases DatabaseService
	backups   BackupService
	router    *mux.Router
}

// NewServer returns a Server routing the management API onto the
// given services.
func NewServer(p Params) (*Server, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Server{
		databases: p.Databases,
		backups:   p.Backups,
		router:    mux.NewRouter(),
	}
	for _, ep := range s.endpoints() {
		s.router.Handle(ep.pattern, s.handler(ep.handle)).Methods(ep.method)
	}
	return s, nil
}

// ServeHTTP is part of the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type endpoint struct {
	pattern string
	method  string
	handle  FailableHandlerFunc
}

// endpoints returns the route table. The prune route precedes the
// routes that capture a filename segment.
func (s *Server) endpoints() []endpoint {
	return []endpoint{
		{"/databases", "GET", s.serveListDatabases},
		{"/databases", "POST", s.serveCreateDatabase},
		{"/databases/{name}", "GET", s.serveGetDatabase},
		{"/databases/{name}", "DELETE", s.serveDeleteDatabase},
		{"/databases/{name}/backups", "GET", s.serveListBackups},
		{"/databases/{name}/backups", "POST", s.serveTriggerBackup},
		{"/databases/{name}/backups/prune", "POST", s.servePruneBackups},
		{"/databases/{name}/backups/{file}", "DELETE", s.serveDeleteBackup},
		{"/databases/{name}/backups/{file}", "PUT", s.serveRestoreBackup},
		{"/databases/{name}/logs", "GET", s.serveLogs},
		{"/databases/{name}/dump", "GET", s.serveDump},
		{"/healthz", "GET", s.serveHealthz},
	}
}

func (s *Server) handler(h FailableHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Tracef("%s %s", r.Method, r.URL)
		if err := h(w, r); err != nil {
			if err := sendJSONError(w, r, errors.Trace(err)); err != nil {
				logger.Errorf("%v", errors.Annotate(err, "cannot return error to user"))
			}
		}
	})
}

func (s *Server) serveHealthz(w http.ResponseWriter, r *http.Request) error {
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, HealthResult{Status: "ok"}))
}
