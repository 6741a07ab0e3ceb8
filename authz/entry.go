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

package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gagliardetto/solana-go"
)

const entryKeyVersion = "v1"

var ErrEntryNotFound = errors.New("authorization entry not found")

// Entry is the durable copy of a registry read. It is a hint and is always
// subject to revalidation.
type Entry struct {
	UpdatedAt  time.Time `json:"updatedAt"`
	SuperAdmin string    `json:"superAdmin"`
	Admins     []string  `json:"admins"`
}

// IsAdmin reports whether principal is the super admin or a listed admin
func (e *Entry) IsAdmin(principal string) bool {
	if e.SuperAdmin == principal {
		return true
	}
	return slices.Contains(e.Admins, principal)
}

// EntryKey namespaces durable entries by ledger endpoint and registry address
func EntryKey(endpoint string, registry solana.PublicKey) string {
	return fmt.Sprintf(
		"attest-admin-registry:%s:%s:%s",
		endpoint,
		registry.String(),
		entryKeyVersion,
	)
}

// EntryStore persists entries. Save is last-write-wins by UpdatedAt: an
// entry older than the stored one is ignored.
type EntryStore interface {
	Load(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// MemoryEntryStore keeps entries for the lifetime of the process
type MemoryEntryStore struct {
	entries map[string]Entry
	mu      sync.Mutex
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string]Entry)}
}

func (m *MemoryEntryStore) Load(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	entry.Admins = slices.Clone(entry.Admins)
	return &entry, nil
}

func (m *MemoryEntryStore) Save(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok && entry.UpdatedAt.Before(cur.UpdatedAt) {
		return nil
	}
	entry.Admins = slices.Clone(entry.Admins)
	m.entries[key] = entry
	return nil
}

func (m *MemoryEntryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// BadgerEntryStore persists entries in a badger database shared by every
// session on the device
type BadgerEntryStore struct {
	db     *badger.DB
	closer bool
}

// NewBadgerEntryStore uses an already open database. Close does not close it.
func NewBadgerEntryStore(db *badger.DB) *BadgerEntryStore {
	return &BadgerEntryStore{db: db}
}

// OpenBadgerEntryStore opens a database under dataDir, or in memory when
// dataDir is empty
func OpenBadgerEntryStore(dataDir string) (*BadgerEntryStore, error) {
	opts := badger.DefaultOptions("").WithLogger(nil).WithInMemory(true)
	if dataDir != "" {
		opts = badger.DefaultOptions(filepath.Join(dataDir, "authz")).
			WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open authorization store: %w", err)
	}
	return &BadgerEntryStore{db: db, closer: true}, nil
}

func (b *BadgerEntryStore) Close() error {
	if !b.closer {
		return nil
	}
	return b.db.Close()
}

func (b *BadgerEntryStore) Load(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret *Entry
	err := b.db.View(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, key)
		ret = entry
		return err
	})
	return ret, err
}

func (b *BadgerEntryStore) Save(ctx context.Context, key string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		cur, err := getEntry(txn, key)
		if err != nil && !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		if cur != nil && entry.UpdatedAt.Before(cur.UpdatedAt) {
			return nil
		}
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerEntryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func getEntry(txn *badger.Txn, key string) (*Entry, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	var entry Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("decode authorization entry: %w", err)
	}
	return &entry, nil
}
