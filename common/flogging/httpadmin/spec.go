/*
Copyright Dispersy Authors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package httpadmin serves the logging spec on the operations endpoint.
package httpadmin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/tribler/dispersy/common/flogging"
)

var logger = flogging.MustGetLogger("flogging.httpadmin")

// Logging is the part of the logging system the handler reads and updates.
type Logging interface {
	ActivateSpec(spec string) error
	Spec() string
}

type LogSpec struct {
	Spec string `json:"spec"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// SpecHandler reports the active logging spec on GET and replaces it on
// PUT. Both answer with the spec that is active afterwards.
type SpecHandler struct {
	Logging Logging
}

// NewSpecHandler returns a handler bound to the global logging system.
func NewSpecHandler() *SpecHandler {
	return &SpecHandler{Logging: flogging.Global}
}

// Register routes path to the handler. Other methods get a 405 from router.
func (h *SpecHandler) Register(router *mux.Router, path string) {
	router.HandleFunc(path, h.get).Methods(http.MethodGet)
	router.HandleFunc(path, h.put).Methods(http.MethodPut)
}

func (h *SpecHandler) get(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, &LogSpec{Spec: h.Logging.Spec()})
}

func (h *SpecHandler) put(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var logSpec LogSpec
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&logSpec); err != nil {
		WriteJSON(w, http.StatusBadRequest, errors.Wrap(err, "malformed logging spec request"))
		return
	}

	previous := h.Logging.Spec()
	if err := h.Logging.ActivateSpec(logSpec.Spec); err != nil {
		WriteJSON(w, http.StatusBadRequest, err)
		return
	}
	active := h.Logging.Spec()
	logger.Infof("logging spec changed from %q to %q", previous, active)
	WriteJSON(w, http.StatusOK, &LogSpec{Spec: active})
}

// WriteJSON encodes payload with status code. An error payload is sent as
// an ErrorResponse.
func WriteJSON(w http.ResponseWriter, code int, payload interface{}) {
	if err, ok := payload.(error); ok {
		payload = &ErrorResponse{Error: err.Error()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorw("failed to encode payload", "error", err)
	}
}
