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

package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultTimeout = 60 * time.Second

type BlobStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *GcsLogger
	client          *storage.Client
	bucket          *storage.BucketHandle
	metrics         *blob.Metrics
	bucketName      string
	prefix          string
	credentialsFile string
	endpoint        string
	publicUrl       string
	timeout         time.Duration
}

// New creates a store from a location of the form gs://<bucket>[/prefix]
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreGCS, error) {
	after, ok := strings.CutPrefix(location, blob.SchemeGCS+"://")
	if !ok {
		return nil, errors.New(
			"gcs blob: expected location='gs://<bucket>[/prefix]'",
		)
	}
	bucketName, prefix, _ := strings.Cut(after, "/")
	if bucketName == "" {
		return nil, errors.New("gcs blob: bucket not set")
	}
	return NewWithOptions(
		WithBucket(bucketName),
		WithPrefix(prefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

func NewWithOptions(opts ...BlobStoreGCSOptionFunc) (*BlobStoreGCS, error) {
	d := &BlobStoreGCS{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = NewGcsLogger(nil)
	}
	return d, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// validateCredentials checks that the credentials file exists and is a
// service account or authorized user JSON document
func validateCredentials(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("gcs blob: read credentials file: %w", err)
	}
	var creds struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(buf, &creds); err != nil {
		return fmt.Errorf("gcs blob: parse credentials file: %w", err)
	}
	if creds.Type == "" {
		return fmt.Errorf("gcs blob: credentials file %q has no type", path)
	}
	return nil
}

func (d *BlobStoreGCS) Start() error {
	if d.bucketName == "" {
		return errors.New("gcs blob: bucket not set")
	}
	if d.credentialsFile != "" {
		if err := validateCredentials(d.credentialsFile); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var client *storage.Client
	var err error
	if d.endpoint != "" {
		client, err = storage.NewClient(
			ctx,
			option.WithEndpoint(d.endpoint),
			option.WithoutAuthentication(),
		)
	} else {
		clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
		if d.credentialsFile != "" {
			clientOpts = append(
				clientOpts,
				option.WithCredentialsFile(d.credentialsFile),
			)
		}
		client, err = storage.NewGRPCClient(ctx, clientOpts...)
	}
	if err != nil {
		return fmt.Errorf("gcs blob: failed in creating storage client: %w", err)
	}
	d.client = client
	d.bucket = client.Bucket(d.bucketName)
	d.metrics = blob.NewMetrics(d.promRegistry, "gcs")
	return nil
}

func (d *BlobStoreGCS) Stop() error {
	return d.Close()
}

func (d *BlobStoreGCS) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	d.bucket = nil
	return err
}

func (d *BlobStoreGCS) opTimeout() time.Duration {
	if d.timeout == 0 {
		return defaultTimeout
	}
	return d.timeout
}

// objectFor builds the object description for a stored content identifier
func (d *BlobStoreGCS) objectFor(contentID string, size int) blob.Object {
	name := d.prefix + contentID
	obj := blob.Object{
		ContentID: contentID,
		URI:       fmt.Sprintf("%s://%s/%s", blob.SchemeGCS, d.bucketName, name),
		Size:      int64(size),
	}
	if d.publicUrl != "" {
		obj.URL = blob.JoinURL(d.publicUrl, name)
	} else {
		obj.URL = blob.Resolver{}.Resolve(obj.URI)
	}
	return obj
}

// Upload implements blob.BlobStore
func (d *BlobStoreGCS) Upload(
	ctx context.Context,
	data []byte,
	filename string,
) (blob.Object, error) {
	obj, stored, err := d.upload(ctx, data, filename)
	d.metrics.ObserveUpload(len(data), stored, err)
	if err != nil {
		return blob.Object{}, err
	}
	return obj, nil
}

func (d *BlobStoreGCS) upload(
	ctx context.Context,
	data []byte,
	filename string,
) (blob.Object, bool, error) {
	if d.bucket == nil {
		return blob.Object{}, false, &blob.UploadError{Err: errors.New("gcs blob: not started")}
	}
	contentID, err := blob.ContentID(data)
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Err: err}
	}
	obj := d.objectFor(contentID, len(data))
	name := d.prefix + contentID
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout())
	defer cancel()
	// The precondition makes a repeated upload of the same bytes a no-op
	w := d.bucket.Object(name).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if filename != "" {
		w.Metadata = map[string]string{"filename": filename}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return blob.Object{}, false, uploadError(err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			d.logger.Debugf("gcs write %q skipped, object exists", name)
			return obj, false, nil
		}
		d.logger.Errorf("gcs write %q failed: %v", name, err)
		return blob.Object{}, false, uploadError(err)
	}
	d.logger.Infof("gcs write %q ok (%d bytes)", name, len(data))
	return obj, true, nil
}

// Get implements blob.Getter
func (d *BlobStoreGCS) Get(ctx context.Context, contentID string) ([]byte, error) {
	if d.bucket == nil {
		return nil, errors.New("gcs blob: not started")
	}
	contentID, err := blob.ParseContentID(contentID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout())
	defer cancel()
	r, err := d.bucket.Object(d.prefix + contentID).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blob.ErrObjectNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func uploadError(err error) *blob.UploadError {
	ret := &blob.UploadError{Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		ret.Status = apiErr.Code
		ret.Detail = apiErr.Message
	}
	return ret
}
