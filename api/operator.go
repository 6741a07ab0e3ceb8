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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/blinklabs-io/attest/authz"
	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/saga"
)

const multipartMemory = 4 << 20

type authzResponse struct {
	Operator string         `json:"operator"`
	Error    string         `json:"error,omitempty"`
	Decision authz.Decision `json:"decision"`
	Registry authz.Registry `json:"registry"`
}

// writeResponse is the body of a successful write
type writeResponse struct {
	Object          *blob.Object     `json:"object,omitempty"`
	Metadata        *models.Document `json:"metadata,omitempty"`
	RunID           string           `json:"runId"`
	Address         string           `json:"address"`
	Digest          string           `json:"digest,omitempty"`
	CreateSignature string           `json:"createSignature,omitempty"`
	LinkSignature   string           `json:"linkSignature,omitempty"`
	MetadataError   string           `json:"metadataError,omitempty"`
	Linked          bool             `json:"linked"`
}

func newWriteResponse(res *saga.Result) writeResponse {
	ret := writeResponse{
		Object:          res.Object,
		Metadata:        res.Document,
		RunID:           res.RunID,
		Address:         res.Address,
		Digest:          res.Digest,
		CreateSignature: res.CreateSignature,
		LinkSignature:   res.LinkSignature,
		Linked:          res.Linked,
	}
	if res.MetadataErr != nil {
		ret.MetadataError = res.MetadataErr.Error()
	}
	return ret
}

type linkRequest struct {
	Object   blob.Object `json:"object"`
	Digest   string      `json:"digest"`
	Filename string      `json:"filename"`
	Note     string      `json:"note"`
}

func (s *Server) authzState(err error) authzResponse {
	operator := s.config.Saga.Operator()
	ret := authzResponse{
		Operator: operator,
		Decision: s.config.Authz.IsAuthorized(operator),
		Registry: s.config.Authz.Registry(),
	}
	if err != nil {
		ret.Error = err.Error()
	} else if ret.Decision.Err != nil {
		ret.Error = ret.Decision.Err.Error()
	}
	return ret
}

func (s *Server) handleAuthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.authzState(nil))
}

// handleRevalidate refreshes the operator's verdict. A failed read is not
// an error response: the previous verdict stands and the failure is
// reported alongside it.
func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	reason := authz.TriggerReason(query.Get("reason"))
	switch reason {
	case "":
		reason = authz.TriggerManual
	case authz.TriggerManual, authz.TriggerRefocus, authz.TriggerReconnect:
	default:
		writeError(
			w,
			http.StatusBadRequest,
			newError(fmt.Errorf("unsupported trigger %q", reason), false),
		)
		return
	}
	force := false
	if v := query.Get("force"); v != "" {
		var err error
		if force, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, newError(err, false))
			return
		}
	}
	cache := s.config.Authz
	operator := s.config.Saga.Operator()
	var err error
	switch {
	case cache.Active() != operator:
		err = cache.SwitchPrincipal(r.Context(), operator)
	case force:
		err = cache.ForceRevalidate(r.Context(), operator)
	default:
		err = cache.Trigger(r.Context(), reason)
	}
	if errors.Is(err, authz.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, newError(err, true))
		return
	}
	writeJSON(w, http.StatusOK, s.authzState(err))
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	att, err := s.readForm(w, r)
	if err != nil {
		writeSagaError(w, s.requestLogger(r), requestError(err))
		return
	}
	req := saga.IssueRequest{
		Subject: saga.Subject{
			Name:         r.FormValue("name"),
			StudentID:    r.FormValue("studentId"),
			Program:      r.FormValue("program"),
			Institution:  r.FormValue("institution"),
			BatchCode:    r.FormValue("batchCode"),
			Number:       r.FormValue("number"),
			OperatorName: r.FormValue("operatorName"),
		},
		Note:       r.FormValue("note"),
		Attachment: att,
	}
	res, err := s.config.Saga.Issue(r.Context(), req)
	if err != nil {
		writeSagaError(w, s.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, newWriteResponse(res))
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	att, err := s.readForm(w, r)
	if err == nil && att == nil {
		err = fmt.Errorf("%w: file", saga.ErrMissingField)
	}
	if err != nil {
		writeSagaError(w, s.requestLogger(r), requestError(err))
		return
	}
	res, err := s.config.Saga.Attach(r.Context(), saga.AttachRequest{
		Address:    r.PathValue("address"),
		Note:       r.FormValue("note"),
		Attachment: *att,
	})
	if err != nil {
		writeSagaError(w, s.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, newWriteResponse(res))
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeSagaError(w, s.requestLogger(r), requestError(err))
		return
	}
	res, err := s.config.Saga.RetryLink(r.Context(), saga.LinkRequest{
		Address:  r.PathValue("address"),
		Digest:   req.Digest,
		Filename: req.Filename,
		Note:     req.Note,
		Object:   req.Object,
	})
	if err != nil {
		writeSagaError(w, s.requestLogger(r), err)
		return
	}
	writeJSON(w, http.StatusOK, newWriteResponse(res))
}

// readForm parses a multipart or urlencoded form and returns the "file"
// part, if any
func (s *Server) readForm(
	w http.ResponseWriter,
	r *http.Request,
) (*saga.Attachment, error) {
	limit := s.config.Saga.Policy().MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return nil, fmt.Errorf("invalid form: %w", err)
		}
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form: %w", err)
		}
		return nil, nil
	}
	return readAttachment(r, limit)
}

// readAttachment reads at most limit+1 bytes of the "file" part so the size
// check still sees an oversized attachment
func readAttachment(r *http.Request, limit int64) (*saga.Attachment, error) {
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, fmt.Errorf("invalid form: %w", err)
		}
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return &saga.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// requestError wraps a malformed request as a validation failure that
// touched no store
func requestError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = fmt.Errorf("%w: %w", saga.ErrAttachmentTooLarge, err)
	}
	return &saga.Error{
		Kind:   saga.KindValidationFailed,
		Record: saga.RecordUnknown,
		Err:    err,
	}
}
