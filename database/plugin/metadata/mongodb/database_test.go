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
	"testing"
	"time"

	"github.com/blinklabs-io/attest/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNewWithOptionsDefaults(t *testing.T) {
	m := NewWithOptions()
	assert.Equal(t, DefaultUri, m.uri)
	assert.Equal(t, DefaultDatabase, m.database)
	assert.Equal(t, DefaultCollection, m.collection)
	assert.Equal(t, defaultTimeout, m.timeout)
}

func TestOptions(t *testing.T) {
	m := NewWithOptions(
		WithUri("mongodb://db:27018"),
		WithDatabase("ijazah"),
		WithCollection("docs"),
		WithTimeout(3*time.Second),
	)
	assert.Equal(t, "mongodb://db:27018", m.uri)
	assert.Equal(t, "ijazah", m.database)
	assert.Equal(t, "docs", m.collection)
	assert.Equal(t, 3*time.Second, m.timeout)
	require.NoError(t, m.clientOptions().Validate())
}

func TestStartRejectsBadUri(t *testing.T) {
	m := NewWithOptions(WithUri(""))
	require.Error(t, m.Start())
	m = NewWithOptions(WithUri("not-a-mongo-uri"))
	require.Error(t, m.Start())
}

func TestUpsertUpdateKeepsCreatedAtOnInsertOnly(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := &models.Document{CreatedAt: created, UpdatedAt: created}
	models.DocumentFields{
		CertificateNumber: "CERT-1",
		ContentID:         "bafk",
		Note:              "n",
	}.Apply("addr", doc)
	update := upsertUpdate(doc)

	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	assert.NotContains(t, set, "createdAt")
	assert.Equal(t, "bafk", set["cid"])
	assert.Equal(t, created, set["updatedAt"])

	onInsert, ok := update["$setOnInsert"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, created, onInsert["createdAt"])
}

func TestOperationsBeforeStart(t *testing.T) {
	m := NewWithOptions()
	_, err := m.GetDocument(context.Background(), "addr")
	require.ErrorIs(t, err, errNotStarted)
	_, err = m.UpsertDocument(context.Background(), "addr", models.DocumentFields{})
	require.ErrorIs(t, err, errNotStarted)
	require.NoError(t, m.Close())
}
