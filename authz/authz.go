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

// Package authz decides whether a principal may run privileged operations,
// based on the admin registry account and a durable local hint.
//
// A principal's verdict moves from unknown to provisional (from a durable
// entry) to confirmed (from a successful registry read). A confirmed
// positive verdict is sticky for the lifetime of the Cache: failed reads,
// timeouts and later registry reads never downgrade it.
package authz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFreshness      = 5 * time.Minute
	DefaultAttemptTimeout = 5 * time.Second
)

// DefaultRetryDelays are the waits between registry read attempts
var DefaultRetryDelays = []time.Duration{
	500 * time.Millisecond,
	1500 * time.Millisecond,
	3 * time.Second,
}

var (
	ErrRevalidationFailed = errors.New("authorization revalidation failed")
	ErrOffline            = errors.New("ledger endpoint offline")
	ErrNoPrincipal        = errors.New("no active principal")
	ErrClosed             = errors.New("authorization cache closed")
)

// Connectivity reports whether the ledger endpoint is reachable
type Connectivity interface {
	Online() bool
}

type TriggerReason string

const (
	TriggerMount           TriggerReason = "mount"
	TriggerPrincipalChange TriggerReason = "principal-change"
	TriggerReconnect       TriggerReason = "reconnect"
	TriggerRefocus         TriggerReason = "refocus"
	TriggerManual          TriggerReason = "manual"
)

type principalState struct {
	checkedAt time.Time
	err       error
	phase     Phase
	verdict   bool
	sticky    bool
}

// Cache is one authorization session for a ledger endpoint and registry
type Cache struct {
	client         ledger.Client
	store          EntryStore
	conn           Connectivity
	eventBus       *event.EventBus
	logger         *slog.Logger
	promRegistry   prometheus.Registerer
	metrics        *cacheMetrics
	clock          func() time.Time
	ctx            context.Context
	cancel         context.CancelFunc
	states         map[string]*principalState
	registry       Registry
	key            string
	active         string
	retryDelays    []time.Duration
	freshness      time.Duration
	attemptTimeout time.Duration
	registryAddr   solana.PublicKey
	group          singleflight.Group
	wg             sync.WaitGroup
	mu             sync.Mutex
	closed         bool
}

type CacheOptionFunc func(*Cache)

func WithLogger(logger *slog.Logger) CacheOptionFunc {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithPromRegistry(registry prometheus.Registerer) CacheOptionFunc {
	return func(c *Cache) {
		c.promRegistry = registry
	}
}

// WithEventBus publishes verdict changes on bus
func WithEventBus(bus *event.EventBus) CacheOptionFunc {
	return func(c *Cache) {
		c.eventBus = bus
	}
}

// WithEntryStore sets the durable entry store. The default keeps entries in
// memory.
func WithEntryStore(store EntryStore) CacheOptionFunc {
	return func(c *Cache) {
		c.store = store
	}
}

func WithConnectivity(conn Connectivity) CacheOptionFunc {
	return func(c *Cache) {
		c.conn = conn
	}
}

// WithFreshness sets how long a durable entry answers without a network read
func WithFreshness(d time.Duration) CacheOptionFunc {
	return func(c *Cache) {
		c.freshness = d
	}
}

func WithAttemptTimeout(d time.Duration) CacheOptionFunc {
	return func(c *Cache) {
		c.attemptTimeout = d
	}
}

// WithRetryDelays sets the waits between registry read attempts. The number
// of attempts is one more than the number of delays.
func WithRetryDelays(delays ...time.Duration) CacheOptionFunc {
	return func(c *Cache) {
		c.retryDelays = delays
	}
}

func WithClock(clock func() time.Time) CacheOptionFunc {
	return func(c *Cache) {
		c.clock = clock
	}
}

// New creates a session for the registry of programID on client's endpoint
func New(
	client ledger.Client,
	programID solana.PublicKey,
	opts ...CacheOptionFunc,
) (*Cache, error) {
	registryAddr, err := ledger.RegistryAddress(programID)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		client:         client,
		registryAddr:   registryAddr,
		states:         make(map[string]*principalState),
		freshness:      DefaultFreshness,
		attemptTimeout: DefaultAttemptTimeout,
		retryDelays:    DefaultRetryDelays,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "authz")
	if c.store == nil {
		c.store = NewMemoryEntryStore()
	}
	c.metrics = newCacheMetrics(c.promRegistry)
	c.key = EntryKey(client.Endpoint(), registryAddr)
	c.registry = Registry{
		Endpoint: client.Endpoint(),
		Address:  registryAddr.String(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Close stops background revalidations and waits for them to finish
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// IsAuthorized returns the current decision for principal without blocking
func (c *Cache) IsAuthorized(principal string) Decision {
	pk, err := ledger.ParsePrincipal(principal)
	if err != nil {
		return Decision{Principal: principal, Stale: true, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decisionLocked(pk.String())
}

// Current returns the decision for the active principal
func (c *Cache) Current() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == "" {
		return Decision{Stale: true, Err: ErrNoPrincipal}
	}
	return c.decisionLocked(c.active)
}

// Active returns the active principal, if any
func (c *Cache) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Registry returns the last known registry snapshot
func (c *Cache) Registry() Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.clone()
}

// Revalidate refreshes the verdict for principal. Concurrent calls for the
// same principal share one revalidation. A failed revalidation leaves the
// verdict unchanged and returns an error wrapping ErrRevalidationFailed.
func (c *Cache) Revalidate(ctx context.Context, principal string) error {
	pk, err := ledger.ParsePrincipal(principal)
	if err != nil {
		return err
	}
	return c.run(ctx, pk.String(), false)
}

// ForceRevalidate is Revalidate without the durable entry freshness
// shortcut. It is still a no-op for a sticky principal.
func (c *Cache) ForceRevalidate(ctx context.Context, principal string) error {
	pk, err := ledger.ParsePrincipal(principal)
	if err != nil {
		return err
	}
	return c.run(ctx, pk.String(), true)
}

// SwitchPrincipal makes principal active, clears its session state
// (including stickiness) and revalidates it. Other principals keep their
// state.
func (c *Cache) SwitchPrincipal(ctx context.Context, principal string) error {
	pk, err := ledger.ParsePrincipal(principal)
	if err != nil {
		return err
	}
	p := pk.String()
	c.mu.Lock()
	prev := c.decisionLocked(p)
	delete(c.states, p)
	c.active = p
	changes := c.changeLocked(prev, p)
	c.mu.Unlock()
	c.publish(changes)
	c.metrics.trigger(TriggerPrincipalChange)
	return c.run(ctx, p, false)
}

// Trigger revalidates the active principal
func (c *Cache) Trigger(ctx context.Context, reason TriggerReason) error {
	active := c.Active()
	if active == "" {
		return ErrNoPrincipal
	}
	c.metrics.trigger(reason)
	c.logger.Debug("revalidation triggered", "reason", reason, "principal", active)
	return c.run(ctx, active, false)
}

// TriggerAsync runs Trigger in the background
func (c *Cache) TriggerAsync(reason TriggerReason) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		err := c.Trigger(c.ctx, reason)
		if err != nil && !errors.Is(err, ErrNoPrincipal) {
			c.logger.Debug(
				"background revalidation failed",
				"reason", reason,
				"error", err,
			)
		}
	}()
}

// outcome is how a revalidation ended
type outcome int

const (
	outcomeSticky outcome = iota + 1
	outcomeFresh
	outcomeConfirmed
)

// run coalesces revalidations per principal. A forced caller that joins a
// run which ended on a fresh durable entry starts another run, since it
// needs a network confirmation.
func (c *Cache) run(ctx context.Context, principal string, force bool) error {
	for {
		ch := c.group.DoChan(principal, func() (any, error) {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return nil, ErrClosed
			}
			c.wg.Add(1)
			c.mu.Unlock()
			defer c.wg.Done()
			return c.revalidate(c.ctx, principal, force)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
			if force && res.Val == outcomeFresh {
				continue
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Cache) revalidate(
	ctx context.Context,
	principal string,
	force bool,
) (outcome, error) {
	if c.isSticky(principal) {
		c.metrics.revalidation("sticky")
		return outcomeSticky, nil
	}
	entry, err := c.store.Load(ctx, c.key)
	switch {
	case err == nil:
		c.applyEntry(principal, entry)
		if !force && c.clock().Sub(entry.UpdatedAt) < c.freshness {
			c.metrics.revalidation("fresh")
			return outcomeFresh, nil
		}
	case errors.Is(err, ErrEntryNotFound):
	default:
		c.logger.Warn("failed to load authorization entry", "error", err)
	}
	if c.conn != nil && !c.conn.Online() {
		return 0, c.fail(principal, ErrOffline)
	}
	reg, err := c.readRegistry(ctx)
	if err != nil {
		return 0, c.fail(principal, err)
	}
	c.applyRead(ctx, principal, reg)
	c.metrics.revalidation("confirmed")
	return outcomeConfirmed, nil
}

// readRegistry returns a nil registry when the account does not exist
func (c *Cache) readRegistry(ctx context.Context) (*ledger.AdminRegistry, error) {
	return backoff.Retry(
		ctx,
		func() (*ledger.AdminRegistry, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
			defer cancel()
			data, err := c.client.FetchAccount(attemptCtx, c.registryAddr)
			if errors.Is(err, ledger.ErrAccountNotFound) {
				c.metrics.networkRead("absent")
				return nil, nil
			}
			if err != nil {
				c.metrics.networkRead("error")
				c.logger.Debug("registry read failed", "error", err)
				return nil, err
			}
			reg, err := ledger.DecodeRegistry(data)
			if err != nil {
				c.metrics.networkRead("invalid")
				return nil, backoff.Permanent(err)
			}
			c.metrics.networkRead("ok")
			return reg, nil
		},
		backoff.WithBackOff(&delaySchedule{delays: c.retryDelays}),
		backoff.WithMaxTries(uint(len(c.retryDelays))+1),
	)
}

func (c *Cache) isSticky(principal string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[principal]
	return ok && st.sticky
}

// applyEntry surfaces a durable entry as a provisional verdict. Confirmed
// verdicts are left alone.
func (c *Cache) applyEntry(principal string, entry *Entry) {
	c.mu.Lock()
	var changes []event.AuthzVerdictEvent
	st := c.stateLocked(principal)
	if st.phase != PhaseConfirmed {
		prev := c.decisionLocked(principal)
		st.phase = PhaseProvisional
		st.verdict = entry.IsAdmin(principal)
		st.checkedAt = entry.UpdatedAt
		changes = c.changeLocked(prev, principal)
	}
	if !c.registry.Confirmed {
		c.registry.SuperAdmin = entry.SuperAdmin
		c.registry.Admins = entry.Admins
		c.registry.UpdatedAt = entry.UpdatedAt
		c.registry.Initialized = InitializedYes
	}
	c.mu.Unlock()
	c.publish(changes)
}

// applyRead records a successful registry read. It confirms every principal
// known to the session; sticky principals keep their verdict.
func (c *Cache) applyRead(
	ctx context.Context,
	principal string,
	reg *ledger.AdminRegistry,
) {
	now := c.clock()
	entry := Entry{UpdatedAt: now}
	if reg == nil {
		if err := c.store.Delete(ctx, c.key); err != nil {
			c.logger.Warn("failed to delete authorization entry", "error", err)
		}
	} else {
		entry.SuperAdmin = reg.SuperAdmin.String()
		entry.Admins = make([]string, 0, len(reg.Admins))
		for _, admin := range reg.Admins {
			entry.Admins = append(entry.Admins, admin.String())
		}
		if err := c.store.Save(ctx, c.key, entry); err != nil {
			c.logger.Warn("failed to save authorization entry", "error", err)
		}
	}
	c.mu.Lock()
	c.stateLocked(principal)
	prevs := make(map[string]Decision, len(c.states))
	for p := range c.states {
		prevs[p] = c.decisionLocked(p)
	}
	c.registry.Confirmed = true
	c.registry.UpdatedAt = now
	c.registry.SuperAdmin = entry.SuperAdmin
	c.registry.Admins = entry.Admins
	c.registry.Initialized = InitializedYes
	if reg == nil {
		c.registry.Initialized = InitializedNo
	}
	var changes []event.AuthzVerdictEvent
	for p, st := range c.states {
		st.err = nil
		st.checkedAt = now
		if st.sticky {
			continue
		}
		st.phase = PhaseConfirmed
		st.verdict = reg != nil && entry.IsAdmin(p)
		st.sticky = st.verdict
		changes = append(changes, c.changeLocked(prevs[p], p)...)
	}
	c.mu.Unlock()
	c.publish(changes)
	c.logger.Debug(
		"registry confirmed",
		"initialized", c.Registry().Initialized,
		"principal", principal,
	)
}

func (c *Cache) fail(principal string, err error) error {
	c.mu.Lock()
	c.stateLocked(principal).err = err
	c.mu.Unlock()
	c.metrics.revalidation("failed")
	c.logger.Warn(
		"authorization revalidation failed, keeping previous verdict",
		"principal", principal,
		"error", err,
	)
	return fmt.Errorf("%w: %w", ErrRevalidationFailed, err)
}

func (c *Cache) stateLocked(principal string) *principalState {
	st, ok := c.states[principal]
	if !ok {
		st = &principalState{}
		c.states[principal] = st
	}
	return st
}

func (c *Cache) decisionLocked(principal string) Decision {
	d := Decision{
		Principal:   principal,
		Initialized: c.registry.Initialized,
	}
	st, ok := c.states[principal]
	if !ok || st.phase == PhaseUnknown {
		if ok {
			d.Err = st.err
		}
		if !c.registry.Confirmed {
			d.Stale = true
			return d
		}
		d.CheckedAt = c.registry.UpdatedAt
		// A confirmed absent registry authorizes nobody
		if c.registry.Initialized == InitializedNo {
			d.Status = StatusUnauthorized
			d.Phase = PhaseConfirmed
			return d
		}
		// The session snapshot answers until this principal is revalidated
		d.Phase = PhaseProvisional
		d.Stale = true
		d.Status = StatusUnauthorized
		if c.registry.SuperAdmin == principal ||
			slices.Contains(c.registry.Admins, principal) {
			d.Status = StatusAuthorized
		}
		return d
	}
	d.Phase = st.phase
	d.Sticky = st.sticky
	d.Err = st.err
	d.CheckedAt = st.checkedAt
	d.Status = StatusUnauthorized
	if st.verdict {
		d.Status = StatusAuthorized
	}
	d.Stale = st.phase != PhaseConfirmed || st.err != nil
	return d
}

func (c *Cache) changeLocked(prev Decision, principal string) []event.AuthzVerdictEvent {
	cur := c.decisionLocked(principal)
	if cur.Status == prev.Status && cur.Phase == prev.Phase {
		return nil
	}
	return []event.AuthzVerdictEvent{{
		Endpoint:  c.registry.Endpoint,
		Registry:  c.registry.Address,
		Principal: principal,
		Status:    cur.Status.String(),
		Phase:     cur.Phase.String(),
		Sticky:    cur.Sticky,
		Previous:  prev.Status.String(),
	}}
}

func (c *Cache) publish(changes []event.AuthzVerdictEvent) {
	for _, change := range changes {
		c.logger.Info(
			"authorization verdict changed",
			"principal", change.Principal,
			"status", change.Status,
			"phase", change.Phase,
			"previous", change.Previous,
		)
		if c.eventBus != nil {
			c.eventBus.Publish(
				event.AuthzVerdictEventType,
				event.NewEvent(event.AuthzVerdictEventType, change),
			)
		}
	}
}

// delaySchedule is a backoff.BackOff over a fixed list of delays
type delaySchedule struct {
	delays []time.Duration
	next   int
}

func (d *delaySchedule) NextBackOff() time.Duration {
	if d.next >= len(d.delays) {
		return backoff.Stop
	}
	ret := d.delays[d.next]
	d.next++
	return ret
}

func (d *delaySchedule) Reset() {
	d.next = 0
}
