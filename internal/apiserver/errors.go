// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/juju/errors"

	"github.com/wharfkeep/wharfkeep/internal/backups"
	"github.com/wharfkeep/wharfkeep/internal/engine"
)

const (
	codeNotFound      = "not found"
	codeAlreadyExists = "already exists"
	codeBadRequest    = "bad request"
	codeServerError   = "server error"
)

// sendJSONError sends a JSON-encoded error envelope. The full error
// chain is logged here; the response body carries only the mapped
// message, so unclassified internal causes never reach the client.
func sendJSONError(w http.ResponseWriter, req *http.Request, err error) error {
	logger.Errorf("returning error from %s %s: %s", req.Method, req.URL, errors.Details(err))
	message, code, status := errorMessageAndStatus(err)
	return errors.Trace(sendStatusAndJSON(w, status, &ErrorResult{
		Error: message,
		Code:  code,
	}))
}

// errorMessageAndStatus maps a service error onto the message, wire
// code and HTTP status reported to the client.
func errorMessageAndStatus(err error) (string, string, int) {
	switch {
	case errors.Is(err, errors.AlreadyExists):
		return err.Error(), codeAlreadyExists, http.StatusConflict
	case errors.Is(err, errors.NotFound), errors.Is(err, backups.ErrNoBackupConfiguration):
		return err.Error(), codeNotFound, http.StatusNotFound
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest), errors.Is(err, engine.ErrUnknown):
		return err.Error(), codeBadRequest, http.StatusBadRequest
	}
	return "internal server error", codeServerError, http.StatusInternalServerError
}

// sendStatusAndJSON marshals response to the writer with the given
// status code.
func sendStatusAndJSON(w http.ResponseWriter, statusCode int, response interface{}) error {
	body, err := json.Marshal(response)
	if err != nil {
		return errors.Errorf("cannot marshal JSON result %#v", response)
	}
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		return errors.Annotate(err, "cannot write response")
	}
	return nil
}
