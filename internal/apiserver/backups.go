// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/collections/transform"
	"github.com/juju/errors"

	"github.com/wharfkeep/wharfkeep/internal/kubernetes"
)

func (s *Server) serveListBackups(w http.ResponseWriter, r *http.Request) error {
	artifacts, err := s.backups.ListBackups(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, BackupListResult{
		Backups: transform.Slice(artifacts, backupResult),
	}))
}

// serveTriggerBackup starts a one-off backup job. The job runs
// detached from the request, so the response only names it.
func (s *Server) serveTriggerBackup(w http.ResponseWriter, r *http.Request) error {
	job, err := s.backups.TriggerManualBackup(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusAccepted, BackupTriggeredResult{Job: job}))
}

func (s *Server) servePruneBackups(w http.ResponseWriter, r *http.Request) error {
	keepArg := r.URL.Query().Get("keep")
	if keepArg == "" {
		return errors.BadRequestf("missing keep value")
	}
	keep, err := strconv.Atoi(keepArg)
	if err != nil {
		return errors.BadRequestf("invalid keep value %q", keepArg)
	}
	deleted, err := s.backups.PruneBackups(r.Context(), mux.Vars(r)["name"], keep)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, PruneResult{Deleted: deleted}))
}

func (s *Server) serveDeleteBackup(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	if err := s.backups.DeleteBackup(r.Context(), vars["name"], vars["file"]); err != nil {
		return errors.Trace(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) serveRestoreBackup(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	if err := s.backups.Restore(r.Context(), vars["name"], vars["file"]); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, RestoreResult{Restored: vars["file"]}))
}

// serveLogs relays container logs as plain text. Once payload bytes
// are on the wire the status line cannot be amended, so a mid-stream
// failure aborts the connection rather than ending it like a complete
// response.
func (s *Server) serveLogs(w http.ResponseWriter, r *http.Request) error {
	var opts kubernetes.LogStreamOptions
	query := r.URL.Query()
	if followArg := query.Get("follow"); followArg != "" {
		follow, err := strconv.ParseBool(followArg)
		if err != nil {
			return errors.BadRequestf("invalid follow value %q", followArg)
		}
		opts.Follow = follow
	}
	if tailArg := query.Get("tail"); tailArg != "" {
		tail, err := strconv.ParseInt(tailArg, 10, 64)
		if err != nil || tail < 0 {
			return errors.BadRequestf("invalid tail value %q", tailArg)
		}
		opts.TailLines = tail
	}

	name := mux.Vars(r)["name"]
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fw := newFlushWriter(w)
	err := s.backups.StreamLogs(r.Context(), name, fw, opts)
	if err == nil || r.Context().Err() != nil {
		// A canceled request context means the client went away,
		// which is how follow mode normally ends.
		return nil
	}
	if fw.wrote() {
		logger.Errorf("aborting log stream of %q: %s", name, errors.Details(err))
		panic(http.ErrAbortHandler)
	}
	return errors.Trace(err)
}

// serveDump streams a fresh dump as an attachment download.
func (s *Server) serveDump(w http.ResponseWriter, r *http.Request) error {
	name := mux.Vars(r)["name"]
	sink := &dumpSink{w: w}
	err := s.backups.StreamDump(r.Context(), name, sink)
	if err == nil || r.Context().Err() != nil {
		return nil
	}
	if !sink.wrote() {
		// Nothing reached the wire yet, so the attachment headers
		// can still be replaced by a proper error response.
		w.Header().Del("Content-Disposition")
		return errors.Trace(err)
	}
	logger.Errorf("aborting dump of %q: %s", name, errors.Details(err))
	panic(http.ErrAbortHandler)
}

// dumpSink adapts the response writer into the dump pipeline's sink.
// The attachment headers can only go out once the filename is known,
// which is also the last moment before payload bytes flow.
type dumpSink struct {
	w  http.ResponseWriter
	fw *flushWriter
}

func (d *dumpSink) Start(filename string) (io.Writer, error) {
	d.w.Header().Set("Content-Type", "application/octet-stream")
	d.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	d.fw = newFlushWriter(d.w)
	return d.fw, nil
}

func (d *dumpSink) wrote() bool {
	return d.fw != nil && d.fw.wrote()
}

// flushWriter relays stream bytes to the client, flushing after every
// write so follow-mode readers see lines as they happen rather than
// when a transport buffer fills.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	n       int64
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	fw := &flushWriter{w: w}
	if flusher, ok := w.(http.Flusher); ok {
		fw.flusher = flusher
	}
	return fw
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.n += int64(n)
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return n, err
}

func (f *flushWriter) wrote() bool {
	return f.n > 0
}
