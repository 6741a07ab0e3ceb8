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

package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultApiUrl     = "https://api.pinata.cloud"
	DefaultGatewayUrl = "https://gateway.pinata.cloud/ipfs"

	pinFilePath     = "/pinning/pinFileToIPFS"
	defaultTimeout  = 60 * time.Second
	maxErrorDetail  = 512
	maxResponseSize = 1 << 20
)

// BlobStorePinata pins attachments to IPFS through the Pinata API
type BlobStorePinata struct {
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	httpClient   *http.Client
	metrics      *blob.Metrics
	jwt          string
	apiUrl       string
	gatewayUrl   string
	timeout      time.Duration
}

type pinResponse struct {
	IpfsHash    string `json:"IpfsHash"`
	Timestamp   string `json:"Timestamp"`
	PinSize     int64  `json:"PinSize"`
	IsDuplicate bool   `json:"isDuplicate"`
}

func NewWithOptions(opts ...BlobStorePinataOptionFunc) *BlobStorePinata {
	p := &BlobStorePinata{
		apiUrl:     DefaultApiUrl,
		gatewayUrl: DefaultGatewayUrl,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	p.logger = p.logger.With("component", "database", "store", "pinata")
	return p
}

func (p *BlobStorePinata) Start() error {
	if p.jwt == "" {
		return errors.New("pinata blob: jwt not set")
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: p.timeout}
	}
	p.metrics = blob.NewMetrics(p.promRegistry, "pinata")
	return nil
}

func (p *BlobStorePinata) Stop() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// Upload implements blob.BlobStore. The request is never retried.
func (p *BlobStorePinata) Upload(
	ctx context.Context,
	data []byte,
	filename string,
) (blob.Object, error) {
	obj, stored, err := p.upload(ctx, data, filename)
	p.metrics.ObserveUpload(len(data), stored, err)
	if err != nil {
		p.logger.Error("pin failed", "filename", filename, "error", err)
		return blob.Object{}, err
	}
	p.logger.Info(
		"pinned attachment",
		"cid", obj.ContentID,
		"filename", filename,
		"duplicate", !stored,
	)
	return obj, nil
}

func (p *BlobStorePinata) upload(
	ctx context.Context,
	data []byte,
	filename string,
) (blob.Object, bool, error) {
	if p.httpClient == nil {
		return blob.Object{}, false, &blob.UploadError{Err: errors.New("pinata blob: not started")}
	}
	if filename == "" {
		filename = "attachment"
	}
	body, contentType, err := buildPinRequest(data, filename)
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Err: err}
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		strings.TrimSuffix(p.apiUrl, "/")+pinFilePath,
		body,
	)
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("Content-Type", contentType)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(respBody))
		if len(detail) > maxErrorDetail {
			detail = detail[:maxErrorDetail]
		}
		return blob.Object{}, false, &blob.UploadError{
			Status: resp.StatusCode,
			Detail: detail,
		}
	}
	var pinResp pinResponse
	if err := json.Unmarshal(respBody, &pinResp); err != nil {
		return blob.Object{}, false, &blob.UploadError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decode pin response: %w", err),
		}
	}
	contentID, err := blob.ParseContentID(pinResp.IpfsHash)
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Status: resp.StatusCode, Err: err}
	}
	return blob.Object{
		ContentID: contentID,
		URI:       blob.SchemeIPFS + "://" + contentID,
		URL:       blob.JoinURL(p.gatewayUrl, contentID),
		Size:      int64(len(data)),
	}, !pinResp.IsDuplicate, nil
}

func buildPinRequest(data []byte, filename string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("pinataOptions", `{"cidVersion":1}`); err != nil {
		return nil, "", err
	}
	meta, err := json.Marshal(map[string]string{"name": filename})
	if err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
