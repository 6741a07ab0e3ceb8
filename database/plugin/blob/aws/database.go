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

package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/blinklabs-io/attest/database/plugin/blob"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultTimeout = 60 * time.Second

type BlobStoreS3 struct {
	promRegistry prometheus.Registerer
	logger       *S3Logger
	client       *s3.Client
	metrics      *blob.Metrics
	bucket       string
	prefix       string
	region       string
	endpoint     string
	publicUrl    string
	timeout      time.Duration
}

// New creates a store from a location of the form s3://<bucket>[/prefix]
func New(
	location string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreS3, error) {
	const scheme = "s3://"
	if !strings.HasPrefix(location, scheme) {
		return nil, errors.New(
			"s3 blob: expected location='s3://<bucket>[/prefix]'",
		)
	}
	bucket, keyPrefix, _ := strings.Cut(strings.TrimPrefix(location, scheme), "/")
	if bucket == "" {
		return nil, errors.New("s3 blob: invalid S3 path (missing bucket)")
	}
	return NewWithOptions(
		WithBucket(bucket),
		WithPrefix(keyPrefix),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

func NewWithOptions(opts ...BlobStoreS3OptionFunc) (*BlobStoreS3, error) {
	d := &BlobStoreS3{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = NewS3Logger(nil)
	}
	// AWS config loading and validation happen in Start()
	return d, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (d *BlobStoreS3) Start() error {
	if d.bucket == "" {
		return errors.New("s3 blob: bucket not set")
	}
	if d.client == nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.opTimeout())
		defer cancel()
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("s3 blob: load default AWS config: %w", err)
		}
		if d.region != "" {
			awsCfg.Region = d.region
		}
		d.region = awsCfg.Region
		d.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if d.endpoint != "" {
				o.BaseEndpoint = aws.String(d.endpoint)
				o.UsePathStyle = true
			}
		})
	}
	d.metrics = blob.NewMetrics(d.promRegistry, "s3")
	return nil
}

func (d *BlobStoreS3) Stop() error {
	// S3 client doesn't need explicit closing
	return nil
}

func (d *BlobStoreS3) opTimeout() time.Duration {
	if d.timeout == 0 {
		return defaultTimeout
	}
	return d.timeout
}

func (d *BlobStoreS3) fullKey(key string) string {
	return d.prefix + key
}

// Upload implements blob.BlobStore
func (d *BlobStoreS3) Upload(
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

func (d *BlobStoreS3) upload(
	ctx context.Context,
	data []byte,
	filename string,
) (blob.Object, bool, error) {
	if d.client == nil {
		return blob.Object{}, false, &blob.UploadError{Err: errors.New("s3 blob: not started")}
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout())
	defer cancel()
	contentID, err := blob.ContentID(data)
	if err != nil {
		return blob.Object{}, false, &blob.UploadError{Err: err}
	}
	key := d.fullKey(contentID)
	obj := d.object(contentID, key, len(data))
	exists, err := d.exists(ctx, key)
	if err != nil {
		return blob.Object{}, false, uploadError(err)
	}
	if exists {
		d.logger.Debugf("s3 put %q skipped, object exists", key)
		return obj, false, nil
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if filename != "" {
		input.Metadata = map[string]string{"filename": filename}
	}
	if _, err := d.client.PutObject(ctx, input); err != nil {
		d.logger.Errorf("s3 put %q failed: %v", key, err)
		return blob.Object{}, false, uploadError(err)
	}
	d.logger.Infof("s3 put %q ok (%d bytes)", key, len(data))
	return obj, true, nil
}

func (d *BlobStoreS3) object(contentID, key string, size int) blob.Object {
	obj := blob.Object{
		ContentID: contentID,
		URI:       fmt.Sprintf("%s://%s/%s", blob.SchemeS3, d.bucket, key),
		Size:      int64(size),
	}
	if d.publicUrl != "" {
		obj.URL = blob.JoinURL(d.publicUrl, key)
	} else {
		obj.URL = blob.Resolver{S3Region: d.region}.Resolve(obj.URI)
	}
	return obj
}

func (d *BlobStoreS3) exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, err
}

// Get implements blob.Getter
func (d *BlobStoreS3) Get(ctx context.Context, contentID string) ([]byte, error) {
	if d.client == nil {
		return nil, errors.New("s3 blob: not started")
	}
	contentID, err := blob.ParseContentID(contentID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout())
	defer cancel()
	key := d.fullKey(contentID)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, blob.ErrObjectNotFound
		}
		d.logger.Errorf("s3 get %q failed: %v", key, err)
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		d.logger.Errorf("s3 read %q failed: %v", key, err)
		return nil, err
	}
	return data, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}

func uploadError(err error) *blob.UploadError {
	ret := &blob.UploadError{Err: err}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		ret.Status = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		ret.Detail = apiErr.ErrorMessage()
	}
	return ret
}
