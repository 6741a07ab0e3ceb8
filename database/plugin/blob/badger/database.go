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

package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/database/plugin/blob"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultGatewayUrl = "http://localhost:8080/api/v1/objects"

	objectKeyPrefix = "obj_"
	gcInterval      = 5 * time.Minute
)

// BlobStoreBadger keeps attachments in a local badger database keyed by
// content identifier
type BlobStoreBadger struct {
	promRegistry   prometheus.Registerer
	db             *badger.DB
	logger         *slog.Logger
	metrics        *blob.Metrics
	gcTicker       *time.Ticker
	gcStopCh       chan struct{}
	DataDir        string
	GatewayUrl     string
	gcWg           sync.WaitGroup
	mu             sync.Mutex
	BlockCacheSize uint64
	GcEnabled      bool
}

// NewWithOptions creates a store without opening the database. Call Start()
// before use.
func NewWithOptions(opts ...BlobStoreBadgerOptionFunc) *BlobStoreBadger {
	d := &BlobStoreBadger{
		GatewayUrl:     DefaultGatewayUrl,
		BlockCacheSize: DefaultBlockCacheSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return d
}

// New creates and starts a store
func New(opts ...BlobStoreBadgerOptionFunc) (*BlobStoreBadger, error) {
	d := NewWithOptions(opts...)
	if err := d.Start(); err != nil {
		return nil, err
	}
	return d, nil
}

// Start implements the plugin.Plugin interface
func (d *BlobStoreBadger) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return nil
	}
	var badgerOpts badger.Options
	if d.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
	} else {
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(d.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(d.DataDir, 0o755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(d.DataDir, "objects")).
			WithBlockCacheSize(int64(d.BlockCacheSize)). //nolint:gosec // cache size is operator controlled
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(d.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return fmt.Errorf("open badger object store: %w", err)
	}
	d.db = db
	d.metrics = blob.NewMetrics(d.promRegistry, "badger")
	if d.GcEnabled && d.DataDir != "" {
		d.gcTicker = time.NewTicker(gcInterval)
		d.gcStopCh = make(chan struct{})
		d.gcWg.Add(1)
		go d.blobGc(d.gcTicker, d.gcStopCh)
	}
	return nil
}

func (d *BlobStoreBadger) blobGc(t *time.Ticker, stop <-chan struct{}) {
	defer d.gcWg.Done()
	for {
		select {
		case <-t.C:
			// Keep collecting while each pass rewrites a file
			for {
				err := d.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					d.logger.Warn(
						fmt.Sprintf("object store: GC failure: %s", err),
						"component", "database",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Stop implements the plugin.Plugin interface
func (d *BlobStoreBadger) Stop() error {
	return d.Close()
}

// Close stops background GC and closes the database
func (d *BlobStoreBadger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gcTicker != nil {
		d.gcTicker.Stop()
		close(d.gcStopCh)
		d.gcWg.Wait()
		d.gcTicker = nil
		d.gcStopCh = nil
	}
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *BlobStoreBadger) handle() (*badger.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil, errors.New("badger object store is not started")
	}
	return d.db, nil
}

func objectKey(contentID string) []byte {
	return []byte(objectKeyPrefix + contentID)
}

// Upload implements blob.BlobStore
func (d *BlobStoreBadger) Upload(
	ctx context.Context,
	data []byte,
	filename string,
) (blob.Object, error) {
	obj, stored, err := d.upload(ctx, data)
	d.metrics.ObserveUpload(len(data), stored, err)
	if err != nil {
		return blob.Object{}, &blob.UploadError{Err: err}
	}
	d.logger.Debug(
		"stored object",
		"component", "database",
		"cid", obj.ContentID,
		"filename", filename,
		"bytes", len(data),
		"new", stored,
	)
	return obj, nil
}

func (d *BlobStoreBadger) upload(
	ctx context.Context,
	data []byte,
) (blob.Object, bool, error) {
	if err := ctx.Err(); err != nil {
		return blob.Object{}, false, err
	}
	db, err := d.handle()
	if err != nil {
		return blob.Object{}, false, err
	}
	contentID, err := blob.ContentID(data)
	if err != nil {
		return blob.Object{}, false, err
	}
	stored := false
	err = db.Update(func(txn *badger.Txn) error {
		key := objectKey(contentID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stored = true
		return txn.Set(key, data)
	})
	if err != nil {
		return blob.Object{}, false, err
	}
	return blob.Object{
		ContentID: contentID,
		URI:       blob.SchemeLocal + "://" + contentID,
		URL:       blob.JoinURL(d.GatewayUrl, contentID),
		Size:      int64(len(data)),
	}, stored, nil
}

// Get implements blob.Getter
func (d *BlobStoreBadger) Get(ctx context.Context, contentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	contentID, err := blob.ParseContentID(contentID)
	if err != nil {
		return nil, err
	}
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	var ret []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(contentID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return blob.ErrObjectNotFound
			}
			return err
		}
		ret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}
