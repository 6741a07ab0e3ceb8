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

package postgres

import (
	"context"
	"testing"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/blinklabs-io/attest/database/plugin"
	"github.com/blinklabs-io/attest/database/plugin/metadata/internal/gormstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptionsDefaults(t *testing.T) {
	m := NewWithOptions()
	assert.Equal(t, "localhost", m.host)
	assert.Equal(t, uint(5432), m.port)
	assert.Equal(t, "postgres", m.user)
	assert.Equal(t, "attest", m.database)
	assert.Equal(t, "disable", m.sslMode)
	assert.Equal(t, "UTC", m.timeZone)
	assert.NotNil(t, m.logger)
}

func TestBuildDSN(t *testing.T) {
	m := NewWithOptions(
		WithHost("db.local"),
		WithPort(6543),
		WithUser("attest"),
		WithPassword("secret"),
		WithDatabase("certs"),
		WithSSLMode("require"),
		WithTimeZone("Asia/Jakarta"),
	)
	assert.Equal(
		t,
		"host=db.local user=attest password=secret dbname=certs port=6543 sslmode=require TimeZone=Asia/Jakarta",
		m.buildDSN(),
	)
}

func TestBuildDSNOverride(t *testing.T) {
	m := NewWithOptions(
		WithHost("ignored"),
		WithDSN("  postgres://u:p@db:5432/certs?sslmode=disable "),
	)
	assert.Equal(t, "postgres://u:p@db:5432/certs?sslmode=disable", m.buildDSN())
}

func TestOperationsBeforeStart(t *testing.T) {
	m := NewWithOptions()
	_, err := m.GetDocument(context.Background(), "addr")
	require.ErrorIs(t, err, gormstore.ErrNotStarted)
	_, err = m.UpsertDocument(context.Background(), "addr", models.DocumentFields{})
	require.ErrorIs(t, err, gormstore.ErrNotStarted)
	require.NoError(t, m.Stop())
}

func TestMaxConnsOption(t *testing.T) {
	assert.Equal(t, 0, NewWithOptions().maxOpenConns)
	assert.Equal(t, 8, NewWithOptions(WithMaxOpenConns(8)).maxOpenConns)

	t.Cleanup(initCmdlineOptions)
	require.NoError(t, plugin.SetPluginOption(
		plugin.PluginTypeMetadata,
		"postgres",
		"max-conns",
		uint64(12),
	))
	m, ok := NewFromCmdlineOptions().(*MetadataStorePostgres)
	require.True(t, ok)
	assert.Equal(t, 12, m.maxOpenConns)
}

