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

package mongodb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultUri        = "mongodb://localhost:27017"
	DefaultDatabase   = "attest"
	DefaultCollection = "certificate_document"

	defaultTimeout = 10 * time.Second
)

var errNotStarted = errors.New("metadata store not started")

// MetadataStoreMongodb stores metadata documents in a MongoDB collection
type MetadataStoreMongodb struct {
	promRegistry   prometheus.Registerer
	tracerProvider trace.TracerProvider
	logger         *slog.Logger
	client         *mongo.Client
	coll           *mongo.Collection
	uri            string
	database       string
	collection     string
	timeout        time.Duration
}

var addressIndex = mongo.IndexModel{
	Keys:    bson.D{{Key: "address", Value: 1}},
	Options: options.Index().SetUnique(true).SetName("address_unique"),
}

func NewWithOptions(opts ...MongodbOptionFunc) *MetadataStoreMongodb {
	m := &MetadataStoreMongodb{
		uri:        DefaultUri,
		database:   DefaultDatabase,
		collection: DefaultCollection,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	m.logger = m.logger.With("component", "database", "store", "mongodb")
	return m
}

func (m *MetadataStoreMongodb) clientOptions() *options.ClientOptions {
	monitorOpts := []otelmongo.Option{}
	if m.tracerProvider != nil {
		monitorOpts = append(monitorOpts, otelmongo.WithTracerProvider(m.tracerProvider))
	}
	return options.Client().
		ApplyURI(m.uri).
		SetMonitor(otelmongo.NewMonitor(monitorOpts...)).
		SetServerSelectionTimeout(m.timeout)
}

// Start implements the plugin.Plugin interface
func (m *MetadataStoreMongodb) Start() error {
	if strings.TrimSpace(m.uri) == "" {
		return errors.New("mongodb metadata: uri not set")
	}
	clientOpts := m.clientOptions()
	if err := clientOpts.Validate(); err != nil {
		return fmt.Errorf("mongodb metadata: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongodb: %w", err)
	}
	coll := client.Database(m.database).Collection(m.collection)
	if _, err := coll.Indexes().CreateOne(ctx, addressIndex); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("create address index: %w", err)
	}
	m.client = client
	m.coll = coll
	m.logger.Info(
		"connected to mongodb metadata store",
		"database", m.database,
		"collection", m.collection,
	)
	return nil
}

// Stop implements the plugin.Plugin interface
func (m *MetadataStoreMongodb) Stop() error {
	return m.Close()
}

func (m *MetadataStoreMongodb) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.coll = nil
	return err
}

// upsertUpdate builds the update document. createdAt is only written when
// the upsert inserts.
func upsertUpdate(doc *models.Document) bson.M {
	return bson.M{
		"$set": bson.M{
			"address":           doc.Address,
			"certificateNumber": doc.CertificateNumber,
			"cid":               doc.ContentID,
			"filename":          doc.Filename,
			"digest":            doc.Digest,
			"operator":          doc.Operator,
			"note":              doc.Note,
			"updatedAt":         doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"createdAt": doc.CreatedAt,
		},
	}
}

func (m *MetadataStoreMongodb) UpsertDocument(
	ctx context.Context,
	address string,
	fields models.DocumentFields,
) (*models.Document, error) {
	if m.coll == nil {
		return nil, errNotStarted
	}
	if err := fields.Validate(address); err != nil {
		return nil, err
	}
	// BSON dates carry millisecond precision
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := &models.Document{CreatedAt: now, UpdatedAt: now}
	fields.Apply(address, doc)
	_, err := m.coll.UpdateOne(
		ctx,
		bson.M{"address": address},
		upsertUpdate(doc),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return m.GetDocument(ctx, address)
}

func (m *MetadataStoreMongodb) GetDocument(
	ctx context.Context,
	address string,
) (*models.Document, error) {
	if m.coll == nil {
		return nil, errNotStarted
	}
	var doc models.Document
	err := m.coll.FindOne(ctx, bson.M{"address": address}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}
