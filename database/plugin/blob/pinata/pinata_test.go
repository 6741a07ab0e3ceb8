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

package pinata_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/blinklabs-io/attest/database/plugin/blob/pinata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPinServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadPinsFile(t *testing.T) {
	data := []byte("%PDF-1.7 pinned")
	expectedCid, err := blob.ContentID(data)
	require.NoError(t, err)
	var calls atomic.Int32
	srv := newPinServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		assert.Equal(t, "Bearer secret-jwt", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.JSONEq(t, `{"cidVersion":1}`, r.FormValue("pinataOptions"))
		assert.JSONEq(t, `{"name":"ijazah.pdf"}`, r.FormValue("pinataMetadata"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		assert.Equal(t, "ijazah.pdf", hdr.Filename)
		got, _ := io.ReadAll(f)
		assert.Equal(t, data, got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"IpfsHash":  expectedCid,
			"PinSize":   len(data),
			"Timestamp": "2026-01-01T00:00:00Z",
		})
	})
	store := pinata.NewWithOptions(
		pinata.WithJwt("secret-jwt"),
		pinata.WithApiUrl(srv.URL),
		pinata.WithGatewayUrl("https://gateway.example/ipfs/"),
	)
	require.NoError(t, store.Start())

	obj, err := store.Upload(t.Context(), data, "ijazah.pdf")
	require.NoError(t, err)
	assert.Equal(t, expectedCid, obj.ContentID)
	assert.Equal(t, "ipfs://"+expectedCid, obj.URI)
	assert.Equal(t, "https://gateway.example/ipfs/"+expectedCid, obj.URL)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadRejected(t *testing.T) {
	var calls atomic.Int32
	srv := newPinServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Invalid authentication credentials"}`)
	})
	store := pinata.NewWithOptions(
		pinata.WithJwt("bad"),
		pinata.WithApiUrl(srv.URL),
	)
	require.NoError(t, store.Start())

	_, err := store.Upload(t.Context(), []byte("x"), "x.pdf")
	var uploadErr *blob.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, http.StatusUnauthorized, uploadErr.Status)
	assert.Contains(t, uploadErr.Detail, "Invalid authentication")
	assert.Equal(t, int32(1), calls.Load(), "uploads are not retried")
}

func TestUploadMalformedResponse(t *testing.T) {
	srv := newPinServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"IpfsHash":"not-a-cid"}`)
	})
	store := pinata.NewWithOptions(pinata.WithJwt("jwt"), pinata.WithApiUrl(srv.URL))
	require.NoError(t, store.Start())
	_, err := store.Upload(t.Context(), []byte("x"), "x.pdf")
	var uploadErr *blob.UploadError
	require.ErrorAs(t, err, &uploadErr)
}

func TestStartRequiresJwt(t *testing.T) {
	store := pinata.NewWithOptions()
	require.Error(t, store.Start())
}
