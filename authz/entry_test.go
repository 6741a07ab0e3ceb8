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

package authz_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/attest/authz"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryKey(t *testing.T) {
	programID := solana.MustPublicKeyFromBase58(ledger.DefaultProgramID)
	addr, err := ledger.RegistryAddress(programID)
	require.NoError(t, err)
	assert.Equal(
		t,
		"attest-admin-registry:https://api.devnet.solana.com:"+addr.String()+":v1",
		authz.EntryKey("https://api.devnet.solana.com", addr),
	)
}

func TestEntryStores(t *testing.T) {
	badgerStore, err := authz.OpenBadgerEntryStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })
	stores := map[string]authz.EntryStore{
		"memory": authz.NewMemoryEntryStore(),
		"badger": badgerStore,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			_, err := store.Load(ctx, "k")
			require.ErrorIs(t, err, authz.ErrEntryNotFound)

			now := time.Now().UTC().Truncate(time.Millisecond)
			newer := authz.Entry{UpdatedAt: now, SuperAdmin: "a", Admins: []string{"b"}}
			older := authz.Entry{UpdatedAt: now.Add(-time.Minute), SuperAdmin: "x"}
			require.NoError(t, store.Save(ctx, "k", newer))
			// Last write wins by timestamp, not by arrival
			require.NoError(t, store.Save(ctx, "k", older))
			got, err := store.Load(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "a", got.SuperAdmin)
			assert.Equal(t, []string{"b"}, got.Admins)
			assert.True(t, got.UpdatedAt.Equal(now))
			assert.True(t, got.IsAdmin("a"))
			assert.True(t, got.IsAdmin("b"))
			assert.False(t, got.IsAdmin("x"))

			require.NoError(t, store.Delete(ctx, "k"))
			_, err = store.Load(ctx, "k")
			require.ErrorIs(t, err, authz.ErrEntryNotFound)
		})
	}
}

func TestBadgerEntryStorePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := authz.OpenBadgerEntryStore(dir)
	require.NoError(t, err)
	entry := authz.Entry{UpdatedAt: time.Now().UTC(), SuperAdmin: "a"}
	require.NoError(t, store.Save(t.Context(), "k", entry))
	require.NoError(t, store.Close())

	store, err = authz.OpenBadgerEntryStore(dir)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(t.Context(), "k")
	require.NoError(t, err)
	assert.Equal(t, "a", got.SuperAdmin)
}
