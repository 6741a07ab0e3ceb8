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
	"mime"
	"net/http"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/verify"
)

type healthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Ledger: "online"}
	if s.config.Health != nil {
		if err := s.config.Health(r.Context()); err != nil {
			resp = healthResponse{
				Status: "degraded",
				Ledger: "offline",
				Error:  err.Error(),
			}
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ret, err := s.config.Verifier.Verify(r.Context(), r.PathValue("address"))
	if err != nil {
		s.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

type listResponse struct {
	Certificates []*verify.Verification `json:"certificates"`
	Count        int                    `json:"count"`
}

// handleList lists certificates, optionally filtered by the operator query
// parameter
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ret, err := s.config.Verifier.List(r.Context(), r.URL.Query().Get("operator"))
	if err != nil {
		s.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Certificates: ret, Count: len(ret)})
}

func (s *Server) handleVerifyAttachment(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r, s.config.MaxAttachmentBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, newError(err, false))
		return
	}
	ret, err := s.config.Verifier.VerifyAttachment(
		r.Context(),
		r.PathValue("address"),
		data,
	)
	if err != nil {
		s.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ret)
}

// readUpload returns the posted bytes, either the "file" part of a
// multipart form or the raw body
func (s *Server) readUpload(
	w http.ResponseWriter,
	r *http.Request,
	limit int64,
) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return data, nil
	}
	att, err := readAttachment(r, limit)
	if err != nil {
		return nil, err
	}
	if att == nil {
		return nil, errors.New("missing file")
	}
	return att.Data, nil
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.ParsePrincipal(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, newError(err, false))
		return
	}
	if s.config.Metadata == nil {
		writeError(
			w,
			http.StatusNotFound,
			newError(models.ErrDocumentNotFound, false),
		)
		return
	}
	doc, err := s.config.Metadata.GetDocument(r.Context(), addr.String())
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, newError(err, false))
			return
		}
		s.requestLogger(r).Warn("metadata read failed", "error", err)
		writeError(w, http.StatusBadGateway, newError(err, true))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	contentID, err := blob.ParseContentID(r.PathValue("cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, newError(err, false))
		return
	}
	if s.config.Objects == nil {
		writeError(w, http.StatusNotFound, newError(blob.ErrObjectNotFound, false))
		return
	}
	data, err := s.config.Objects.Get(r.Context(), contentID)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, newError(err, false))
			return
		}
		s.requestLogger(r).Error("object read failed", "error", err)
		writeError(w, http.StatusInternalServerError, newError(err, true))
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+contentID+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) writeReadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidPrincipal):
		writeError(w, http.StatusBadRequest, newError(err, false))
	case errors.Is(err, verify.ErrNotFound), errors.Is(err, verify.ErrNoAttachment):
		writeError(w, http.StatusNotFound, newError(err, false))
	case errors.Is(err, verify.ErrInvalidRecord):
		writeError(w, http.StatusUnprocessableEntity, newError(err, false))
	case errors.Is(err, verify.ErrListingUnsupported):
		writeError(w, http.StatusNotImplemented, newError(err, false))
	default:
		s.requestLogger(r).Warn("ledger read failed", "error", err)
		writeError(w, http.StatusBadGateway, newError(err, true))
	}
}
