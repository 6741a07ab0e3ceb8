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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/attest/authz"
	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/ledger/devnet"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var errInjected = errors.New("injected read failure")

// flakyClient counts registry reads and fails or holds them on demand
type flakyClient struct {
	ledger.Client
	gate  chan struct{}
	reads atomic.Int32
	fail  atomic.Bool
}

func (f *flakyClient) FetchAccount(
	ctx context.Context,
	address solana.PublicKey,
) ([]byte, error) {
	f.reads.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail.Load() {
		return nil, errInjected
	}
	return f.Client.FetchAccount(ctx, address)
}

type offline struct{}

func (offline) Online() bool { return false }

type fixture struct {
	ledger *devnet.Ledger
	client *flakyClient
	super  *ledger.KeySigner
	store  *authz.MemoryEntryStore
}

func newSigner(t *testing.T) *ledger.KeySigner {
	t.Helper()
	s, err := ledger.NewKeySigner(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return s
}

func newFixture(t *testing.T, initRegistry bool) *fixture {
	t.Helper()
	l, err := devnet.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	f := &fixture{
		ledger: l,
		client: &flakyClient{Client: l},
		super:  newSigner(t),
		store:  authz.NewMemoryEntryStore(),
	}
	if initRegistry {
		_, err := l.Submit(
			t.Context(),
			ledger.InitRegistry{SuperAdmin: f.super.PublicKey()},
			f.super,
		)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) newCache(t *testing.T, opts ...authz.CacheOptionFunc) *authz.Cache {
	t.Helper()
	opts = append(
		[]authz.CacheOptionFunc{
			authz.WithEntryStore(f.store),
			authz.WithRetryDelays(time.Millisecond, time.Millisecond, time.Millisecond),
			authz.WithAttemptTimeout(time.Second),
		},
		opts...,
	)
	c, err := authz.New(f.client, f.ledger.ProgramID(), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestUnknownBeforeRevalidation(t *testing.T) {
	f := newFixture(t, true)
	c := f.newCache(t)
	d := c.IsAuthorized(f.super.PublicKey().String())
	assert.Equal(t, authz.StatusUnknown, d.Status)
	assert.Equal(t, authz.PhaseUnknown, d.Phase)
	assert.True(t, d.Stale)
	assert.Equal(t, int32(0), f.client.reads.Load())
}

func TestInvalidPrincipal(t *testing.T) {
	f := newFixture(t, true)
	c := f.newCache(t)
	require.ErrorIs(t, c.Revalidate(t.Context(), "not-a-key"), ledger.ErrInvalidPrincipal)
	d := c.IsAuthorized("not-a-key")
	assert.Equal(t, authz.StatusUnknown, d.Status)
	assert.ErrorIs(t, d.Err, ledger.ErrInvalidPrincipal)
}

func TestConfirmedTrueIsSticky(t *testing.T) {
	f := newFixture(t, true)
	admin := newSigner(t)
	_, err := f.ledger.Submit(t.Context(), ledger.AddAdmin{Admin: admin.PublicKey()}, f.super)
	require.NoError(t, err)
	c := f.newCache(t)
	principal := admin.PublicKey().String()

	require.NoError(t, c.ForceRevalidate(t.Context(), principal))
	d := c.IsAuthorized(principal)
	require.True(t, d.Confirmed())
	assert.True(t, d.Sticky)
	assert.False(t, d.Stale)

	// Removal on the ledger and failing reads both leave the verdict alone
	_, err = f.ledger.Submit(t.Context(), ledger.RemoveAdmin{Admin: admin.PublicKey()}, f.super)
	require.NoError(t, err)
	reads := f.client.reads.Load()
	require.NoError(t, c.ForceRevalidate(t.Context(), principal))
	f.client.fail.Store(true)
	require.NoError(t, c.ForceRevalidate(t.Context(), principal))
	assert.Equal(t, reads, f.client.reads.Load())
	assert.True(t, c.IsAuthorized(principal).Confirmed())
}

func TestFailedReadKeepsVerdict(t *testing.T) {
	f := newFixture(t, true)
	c := f.newCache(t)
	outsider := newSigner(t).PublicKey().String()

	// Without a durable entry an unknown principal stays unknown
	f.client.fail.Store(true)
	require.ErrorIs(t, c.Revalidate(t.Context(), outsider), authz.ErrRevalidationFailed)
	assert.Equal(t, authz.StatusUnknown, c.IsAuthorized(outsider).Status)
	f.client.fail.Store(false)

	require.NoError(t, c.ForceRevalidate(t.Context(), outsider))
	before := c.IsAuthorized(outsider)
	require.Equal(t, authz.StatusUnauthorized, before.Status)
	require.Equal(t, authz.PhaseConfirmed, before.Phase)

	f.client.fail.Store(true)
	reads := f.client.reads.Load()
	err := c.ForceRevalidate(t.Context(), outsider)
	require.ErrorIs(t, err, authz.ErrRevalidationFailed)
	require.ErrorIs(t, err, errInjected)
	// One attempt plus one per retry delay
	assert.Equal(t, reads+4, f.client.reads.Load())

	after := c.IsAuthorized(outsider)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Phase, after.Phase)
	assert.True(t, after.Stale)
	assert.ErrorIs(t, after.Err, errInjected)
}

func TestConfirmedFalsePromotedByLaterRead(t *testing.T) {
	f := newFixture(t, true)
	c := f.newCache(t)
	admin := newSigner(t)
	principal := admin.PublicKey().String()

	require.NoError(t, c.ForceRevalidate(t.Context(), principal))
	require.Equal(t, authz.StatusUnauthorized, c.IsAuthorized(principal).Status)

	_, err := f.ledger.Submit(t.Context(), ledger.AddAdmin{Admin: admin.PublicKey()}, f.super)
	require.NoError(t, err)
	require.NoError(t, c.ForceRevalidate(t.Context(), principal))
	assert.True(t, c.IsAuthorized(principal).Confirmed())
}

func TestFreshEntryAnswersWithoutNetwork(t *testing.T) {
	f := newFixture(t, true)
	principal := f.super.PublicKey().String()
	first := f.newCache(t)
	require.NoError(t, first.Revalidate(t.Context(), principal))
	require.Equal(t, int32(1), f.client.reads.Load())

	// A new session on the same device starts from the durable entry
	second := f.newCache(t)
	require.NoError(t, second.Revalidate(t.Context(), principal))
	d1 := second.IsAuthorized(principal)
	require.NoError(t, second.Revalidate(t.Context(), principal))
	d2 := second.IsAuthorized(principal)
	assert.Equal(t, int32(1), f.client.reads.Load())
	assert.Equal(t, authz.StatusAuthorized, d1.Status)
	assert.Equal(t, authz.PhaseProvisional, d1.Phase)
	assert.Equal(t, d1.Status, d2.Status)
	assert.False(t, d1.Confirmed())

	require.NoError(t, second.ForceRevalidate(t.Context(), principal))
	assert.Equal(t, int32(2), f.client.reads.Load())
	assert.True(t, second.IsAuthorized(principal).Confirmed())
}

func TestStaleEntryReadsNetwork(t *testing.T) {
	f := newFixture(t, true)
	principal := f.super.PublicKey().String()
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	first := f.newCache(t, authz.WithClock(clock))
	require.NoError(t, first.Revalidate(t.Context(), principal))

	mu.Lock()
	now = now.Add(authz.DefaultFreshness + time.Second)
	mu.Unlock()
	second := f.newCache(t, authz.WithClock(clock))
	require.NoError(t, second.Revalidate(t.Context(), principal))
	assert.Equal(t, int32(2), f.client.reads.Load())
	assert.True(t, second.IsAuthorized(principal).Confirmed())
}

func TestProvisionalNeverDowngradesConfirmed(t *testing.T) {
	f := newFixture(t, true)
	c := f.newCache(t)
	outsider := newSigner(t).PublicKey().String()
	require.NoError(t, c.ForceRevalidate(t.Context(), outsider))

	// Another session writes an entry that lists the outsider
	key := authz.EntryKey(f.ledger.Endpoint(), mustRegistryAddress(t, f.ledger.ProgramID()))
	require.NoError(t, f.store.Save(t.Context(), key, authz.Entry{
		UpdatedAt:  time.Now(),
		SuperAdmin: f.super.PublicKey().String(),
		Admins:     []string{outsider},
	}))
	require.NoError(t, c.Revalidate(t.Context(), outsider))
	d := c.IsAuthorized(outsider)
	assert.Equal(t, authz.PhaseConfirmed, d.Phase)
	assert.Equal(t, authz.StatusUnauthorized, d.Status)
}

func TestRegistryAbsent(t *testing.T) {
	f := newFixture(t, true)
	principal := f.super.PublicKey().String()
	c := f.newCache(t)
	require.NoError(t, c.Revalidate(t.Context(), principal))
	require.True(t, c.IsAuthorized(principal).Confirmed())

	// Same device, same principal, a program whose registry was never created
	other, err := authz.New(
		f.client,
		newSigner(t).PublicKey(),
		authz.WithEntryStore(f.store),
		authz.WithRetryDelays(),
	)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Revalidate(t.Context(), principal))
	d := other.IsAuthorized(principal)
	assert.Equal(t, authz.StatusUnauthorized, d.Status)
	assert.Equal(t, authz.PhaseConfirmed, d.Phase)
	assert.Equal(t, authz.InitializedNo, d.Initialized)
	unseen := other.IsAuthorized(newSigner(t).PublicKey().String())
	assert.Equal(t, authz.StatusUnauthorized, unseen.Status)
	assert.Equal(t, authz.InitializedNo, other.Registry().Initialized)
	assert.Equal(t, authz.InitializedYes, c.Registry().Initialized)
}

func TestOfflineSkipsNetwork(t *testing.T) {
	f := newFixture(t, true)
	c := f.newCache(t, authz.WithConnectivity(offline{}))
	err := c.Revalidate(t.Context(), f.super.PublicKey().String())
	require.ErrorIs(t, err, authz.ErrOffline)
	require.ErrorIs(t, err, authz.ErrRevalidationFailed)
	assert.Equal(t, int32(0), f.client.reads.Load())
}

func TestConcurrentRevalidationsCoalesce(t *testing.T) {
	f := newFixture(t, true)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f.client.gate = make(chan struct{})
	c, err := authz.New(
		f.client,
		f.ledger.ProgramID(),
		authz.WithEntryStore(f.store),
	)
	require.NoError(t, err)
	defer c.Close()
	principal := f.super.PublicKey().String()

	const callers = 8
	errs := make(chan error, callers)
	for range callers {
		go func() {
			errs <- c.Revalidate(t.Context(), principal)
		}()
	}
	require.Eventually(t, func() bool {
		return f.client.reads.Load() == 1
	}, time.Second, time.Millisecond)
	close(f.client.gate)
	for range callers {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), f.client.reads.Load())
	assert.True(t, c.IsAuthorized(principal).Confirmed())
}

func TestForcedRevalidationJoinsInFlightRead(t *testing.T) {
	f := newFixture(t, true)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f.client.gate = make(chan struct{})
	c, err := authz.New(
		f.client,
		f.ledger.ProgramID(),
		authz.WithEntryStore(f.store),
	)
	require.NoError(t, err)
	defer c.Close()
	// A non-admin is never sticky, so a separate forced run would read again
	outsider := newSigner(t).PublicKey().String()

	plain := make(chan error, 1)
	go func() {
		plain <- c.Revalidate(t.Context(), outsider)
	}()
	require.Eventually(t, func() bool {
		return f.client.reads.Load() == 1
	}, time.Second, time.Millisecond)
	forced := make(chan error, 1)
	go func() {
		forced <- c.ForceRevalidate(t.Context(), outsider)
	}()
	require.Never(t, func() bool {
		return f.client.reads.Load() > 1
	}, 50*time.Millisecond, time.Millisecond)
	close(f.client.gate)
	require.NoError(t, <-plain)
	require.NoError(t, <-forced)
	assert.Equal(t, int32(1), f.client.reads.Load())
	d := c.IsAuthorized(outsider)
	assert.Equal(t, authz.PhaseConfirmed, d.Phase)
	assert.Equal(t, authz.StatusUnauthorized, d.Status)
}

func TestConfirmedSnapshotAnswersUnseenPrincipals(t *testing.T) {
	f := newFixture(t, true)
	admin := newSigner(t)
	_, err := f.ledger.Submit(t.Context(), ledger.AddAdmin{Admin: admin.PublicKey()}, f.super)
	require.NoError(t, err)
	c := f.newCache(t)
	require.NoError(t, c.ForceRevalidate(t.Context(), f.super.PublicKey().String()))
	reads := f.client.reads.Load()

	d := c.IsAuthorized(admin.PublicKey().String())
	assert.Equal(t, authz.StatusAuthorized, d.Status)
	assert.Equal(t, authz.PhaseProvisional, d.Phase)
	assert.True(t, d.Stale)
	assert.False(t, d.Confirmed())

	d = c.IsAuthorized(newSigner(t).PublicKey().String())
	assert.Equal(t, authz.StatusUnauthorized, d.Status)
	assert.Equal(t, authz.PhaseProvisional, d.Phase)
	assert.Equal(t, reads, f.client.reads.Load())
}

func TestSwitchPrincipal(t *testing.T) {
	f := newFixture(t, true)
	admin := newSigner(t)
	_, err := f.ledger.Submit(t.Context(), ledger.AddAdmin{Admin: admin.PublicKey()}, f.super)
	require.NoError(t, err)
	c := f.newCache(t)
	super := f.super.PublicKey().String()

	require.ErrorIs(t, c.Trigger(t.Context(), authz.TriggerMount), authz.ErrNoPrincipal)
	require.NoError(t, c.SwitchPrincipal(t.Context(), super))
	require.True(t, c.Current().Confirmed())

	require.NoError(t, c.SwitchPrincipal(t.Context(), admin.PublicKey().String()))
	assert.Equal(t, admin.PublicKey().String(), c.Active())
	// The previous principal keeps its session state
	assert.True(t, c.IsAuthorized(super).Sticky)

	// Switching back clears stickiness; the fresh entry answers provisionally
	require.NoError(t, c.SwitchPrincipal(t.Context(), super))
	d := c.Current()
	assert.False(t, d.Sticky)
	assert.Equal(t, authz.PhaseProvisional, d.Phase)
	assert.Equal(t, authz.StatusAuthorized, d.Status)
}

func TestTriggerAsyncStopsOnClose(t *testing.T) {
	f := newFixture(t, true)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f.client.gate = make(chan struct{})
	c, err := authz.New(f.client, f.ledger.ProgramID())
	require.NoError(t, err)
	c.TriggerAsync(authz.TriggerRefocus)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		for f.client.reads.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	principal := f.super.PublicKey().String()
	require.ErrorIs(t, c.SwitchPrincipal(ctx, principal), context.Canceled)
	c.TriggerAsync(authz.TriggerReconnect)
	// Close cancels the held read and waits for the background work
	c.Close()
	c.TriggerAsync(authz.TriggerRefocus)
	require.ErrorIs(t, c.Revalidate(t.Context(), principal), authz.ErrClosed)
	assert.Equal(t, authz.StatusUnknown, c.IsAuthorized(principal).Status)
}

func TestVerdictEventsAndMetrics(t *testing.T) {
	f := newFixture(t, true)
	reg := prometheus.NewRegistry()
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	_, evtCh := bus.Subscribe(event.AuthzVerdictEventType)
	c := f.newCache(t, authz.WithEventBus(bus), authz.WithPromRegistry(reg))
	principal := f.super.PublicKey().String()
	require.NoError(t, c.Revalidate(t.Context(), principal))

	select {
	case evt := <-evtCh:
		data, ok := evt.Data.(event.AuthzVerdictEvent)
		require.True(t, ok)
		assert.Equal(t, principal, data.Principal)
		assert.Equal(t, "authorized", data.Status)
		assert.Equal(t, "confirmed", data.Phase)
		assert.Equal(t, "unknown", data.Previous)
		assert.True(t, data.Sticky)
	case <-time.After(time.Second):
		t.Fatal("no verdict event")
	}
	count, err := testutil.GatherAndCount(reg, "attest_authz_revalidations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func mustRegistryAddress(t *testing.T, programID solana.PublicKey) solana.PublicKey {
	t.Helper()
	addr, err := ledger.RegistryAddress(programID)
	require.NoError(t, err)
	return addr
}
