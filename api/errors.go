// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/saga"
)

// Error is the body of every non-2xx response. Write operations always
// report RecordExists and Recovery so callers know what the ledger holds
// and which operation resumes the write.
type Error struct {
	Object       *blob.Object      `json:"object,omitempty"`
	Message      string            `json:"error"`
	Kind         string            `json:"kind,omitempty"`
	Address      string            `json:"address,omitempty"`
	Digest       string            `json:"digest,omitempty"`
	RecordExists *saga.RecordState `json:"recordExists,omitempty"`
	Recovery     saga.Recovery     `json:"recovery,omitempty"`
	Retriable    bool              `json:"retriable"`
}

func (e *Error) Error() string {
	return e.Message
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err *Error) {
	writeJSON(w, status, err)
}

func newError(err error, retriable bool) *Error {
	return &Error{Message: err.Error(), Retriable: retriable}
}

// writeSagaError reports a failed write. Errors that are not *saga.Error
// never touched a store.
func writeSagaError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var sagaErr *saga.Error
	if !errors.As(err, &sagaErr) {
		unknown := saga.RecordUnknown
		writeError(w, http.StatusInternalServerError, &Error{
			Message:      err.Error(),
			RecordExists: &unknown,
			Recovery:     saga.RecoveryNone,
		})
		return
	}
	record := sagaErr.Record
	body := &Error{
		Message:      sagaErr.Error(),
		Kind:         sagaErr.Kind.String(),
		Address:      sagaErr.Address,
		Digest:       sagaErr.Digest,
		Object:       sagaErr.Object,
		RecordExists: &record,
		Recovery:     sagaErr.Recovery(),
	}
	body.Retriable = body.Recovery != saga.RecoveryNone
	status := sagaStatus(sagaErr)
	if status >= http.StatusInternalServerError {
		logger.Warn("write failed", "error", err, "recovery", body.Recovery)
	}
	writeError(w, status, body)
}

func sagaStatus(err *saga.Error) int {
	switch err.Kind {
	case saga.KindUnauthorized:
		return http.StatusForbidden
	case saga.KindValidationFailed:
		switch {
		case errors.Is(err.Err, saga.ErrRecordExists):
			return http.StatusConflict
		case errors.Is(err.Err, saga.ErrRecordNotFound):
			return http.StatusNotFound
		case errors.Is(err.Err, saga.ErrAttachmentTooLarge):
			return http.StatusRequestEntityTooLarge
		case errors.Is(err.Err, saga.ErrContentType):
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case saga.KindInFlight:
		return http.StatusConflict
	case saga.KindLedgerRejected, saga.KindUploadFailed, saga.KindLinkFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeRequest reads a JSON body of at most maxRequestBody bytes
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
