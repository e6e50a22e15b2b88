// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/collections/transform"
	"github.com/juju/errors"

	"github.com/wharfkeep/wharfkeep/core/database"
)

// serveCreateDatabase provisions a new instance. The response is the
// only place the generated password appears in plain text; it cannot
// be retrieved in full again once the creating client drops it.
func (s *Server) serveCreateDatabase(w http.ResponseWriter, r *http.Request) error {
	var args CreateDatabaseArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		return errors.BadRequestf("decoding request body: %v", err)
	}
	inst, err := s.databases.Create(r.Context(), database.CreateArgs{
		Name:           args.Name,
		Engine:         database.Engine(args.Engine),
		Version:        args.Version,
		BackupSchedule: args.BackupSchedule,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusCreated, databaseResult(*inst)))
}

func (s *Server) serveListDatabases(w http.ResponseWriter, r *http.Request) error {
	instances, err := s.databases.List(r.Context())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, DatabaseListResult{
		Databases: transform.Slice(instances, databaseResult),
	}))
}

func (s *Server) serveGetDatabase(w http.ResponseWriter, r *http.Request) error {
	inst, err := s.databases.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, databaseResult(*inst)))
}

func (s *Server) serveDeleteDatabase(w http.ResponseWriter, r *http.Request) error {
	if err := s.databases.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		return errors.Trace(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
