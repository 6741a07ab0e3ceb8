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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type MongodbOptionFunc func(*MetadataStoreMongodb)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(
	registry prometheus.Registerer,
) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.promRegistry = registry
	}
}

// WithTracerProvider sets the provider used for command spans
func WithTracerProvider(tp trace.TracerProvider) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.tracerProvider = tp
	}
}

// WithUri specifies the MongoDB connection string
func WithUri(uri string) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.uri = uri
	}
}

func WithDatabase(database string) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.database = database
	}
}

func WithCollection(collection string) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.collection = collection
	}
}

// WithTimeout bounds connecting and index creation during Start
func WithTimeout(timeout time.Duration) MongodbOptionFunc {
	return func(m *MetadataStoreMongodb) {
		m.timeout = timeout
	}
}
