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

package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/attest/event"
	"github.com/blinklabs-io/attest/internal/config"
	"github.com/blinklabs-io/attest/internal/test/testutil"
	"github.com/blinklabs-io/attest/ledger"
	"github.com/blinklabs-io/attest/ledger/devnet"
	"github.com/blinklabs-io/attest/saga"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPDF = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n%%EOF\n")

func newSigner(t *testing.T) *ledger.KeySigner {
	t.Helper()
	s, err := ledger.NewKeySigner(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return s
}

// newLedger returns an in-memory ledger with the registry initialized
func newLedger(t *testing.T, super ledger.Signer) *devnet.Ledger {
	t.Helper()
	l, err := devnet.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	_, err = l.Submit(
		t.Context(),
		ledger.InitRegistry{SuperAdmin: super.PublicKey()},
		super,
	)
	require.NoError(t, err)
	return l
}

func TestNodeIssueAndServe(t *testing.T) {
	super := newSigner(t)
	l := newLedger(t, super)
	n, err := New(NewConfig(
		WithLedgerClient(l),
		WithProgramID(l.ProgramID()),
		WithSigner(super),
		WithPrometheusRegistry(prometheus.NewRegistry()),
		WithListenAddress("127.0.0.1:0"),
		WithOperatorListenAddress("127.0.0.1:0"),
		WithPingInterval(time.Hour),
	))
	require.NoError(t, err)
	require.NoError(t, n.Start(t.Context()))
	require.Error(t, n.Start(t.Context()))
	defer n.Stop()

	assert.True(t, n.Authz().IsAuthorized(super.PublicKey().String()).Confirmed())
	s, err := n.Saga()
	require.NoError(t, err)
	res, err := s.Issue(t.Context(), saga.IssueRequest{
		Subject: saga.Subject{
			Name:         "Siti Rahma",
			StudentID:    "2019-0042",
			Program:      "Informatics",
			Institution:  "Universitas Contoh",
			BatchCode:    "2023-A",
			Number:       "IJZ-NODE-1",
			OperatorName: "Registrar",
		},
		Attachment: &saga.Attachment{
			Filename:    "ijazah.pdf",
			ContentType: "application/pdf",
			Data:        testPDF,
		},
	})
	require.NoError(t, err)
	require.True(t, res.Linked)

	addrs := n.Addrs()
	require.Len(t, addrs, 2)
	resp, err := http.Get("http://" + addrs[0].String() + "/api/v1/certs/" + res.Address)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, res.Address, body["address"])

	resp, err = http.Get("http://" + addrs[1].String() + "/api/v1/authz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
}

func TestNodeReadOnly(t *testing.T) {
	super := newSigner(t)
	l := newLedger(t, super)
	n, err := New(NewConfig(
		WithLedgerClient(l),
		WithProgramID(l.ProgramID()),
		WithListenAddress("127.0.0.1:0"),
		WithOperatorListenAddress("127.0.0.1:0"),
	))
	require.NoError(t, err)
	require.NoError(t, n.Start(t.Context()))
	defer n.Stop()
	_, err = n.Saga()
	require.ErrorIs(t, err, ErrReadOnly)
	_, err = n.Signer()
	require.ErrorIs(t, err, ErrReadOnly)
	assert.Len(t, n.Addrs(), 1)
	assert.Empty(t, n.Authz().Active())
}

func TestNodeRunStopsOnCancel(t *testing.T) {
	super := newSigner(t)
	l := newLedger(t, super)
	n, err := New(NewConfig(WithLedgerClient(l), WithSigner(super)))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, n.Run(ctx))
	require.NoError(t, n.Stop())
}

func TestNodeInvalidConfig(t *testing.T) {
	_, err := New(NewConfig(WithRunMode("load")))
	require.Error(t, err)
	_, err = New(NewConfig(WithRunMode(runModeServe)))
	require.Error(t, err)
	_, err = New(NewConfig(
		WithLedgerEndpoint("http://localhost:8899"),
		WithOperatorListenAddress("127.0.0.1:0"),
	))
	require.Error(t, err)
	_, err = New(NewConfig(
		WithRunMode(runModeDev),
		WithAttachmentPolicy(saga.AttachmentPolicy{MaxBytes: -1}),
	))
	require.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		RunMode:         config.RunModeDev,
		ShutdownTimeout: "5s",
		PingInterval:    "10s",
		AttachmentTypes: []string{"application/pdf", "image/png"},
	}
	opts, err := OptionsFromConfig(cfg, slog.Default())
	require.NoError(t, err)
	c := NewConfig(opts...)
	assert.True(t, c.isDevMode())
	assert.Equal(t, 5*time.Second, c.shutdownTimeout)
	assert.Equal(t, 10*time.Second, c.pingInterval)
	assert.Equal(t, ledger.DefaultProgramID, c.programID.String())
	assert.Equal(t, []string{"application/pdf", "image/png"}, c.attachmentPolicy.ContentTypes)

	cfg.SubmitTimeout = "soon"
	_, err = OptionsFromConfig(cfg, slog.Default())
	require.Error(t, err)
	cfg.SubmitTimeout = ""
	cfg.ProgramId = "not-a-key"
	_, err = OptionsFromConfig(cfg, slog.Default())
	require.Error(t, err)
}

type fakePinger struct {
	err atomic.Pointer[error]
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if err := f.err.Load(); err != nil {
		return *err
	}
	return ctx.Err()
}

func (f *fakePinger) fail(err error) {
	f.err.Store(&err)
}

func (f *fakePinger) restore() {
	f.err.Store(nil)
}

func TestConnectivityMonitor(t *testing.T) {
	p := &fakePinger{}
	m := newConnectivityMonitor(p, time.Second, slog.Default(), prometheus.NewRegistry())
	reconnects := make(chan struct{}, 10)
	m.onReconnect = func() { reconnects <- struct{}{} }

	assert.True(t, m.Online())
	assert.True(t, m.check(t.Context()))
	testutil.RequireNoReceive(t, reconnects, 50*time.Millisecond, "reconnect while online")

	p.fail(errors.New("connection refused"))
	assert.False(t, m.check(t.Context()))
	assert.False(t, m.check(t.Context()))
	assert.False(t, m.Online())

	p.restore()
	assert.True(t, m.check(t.Context()))
	assert.True(t, m.Online())
	testutil.RequireReceive(t, reconnects, time.Second, "reconnect after recovery")
	assert.True(t, m.check(t.Context()))
	testutil.RequireNoReceive(t, reconnects, 50*time.Millisecond, "second reconnect")

	// A cancelled ping keeps the last state
	p.fail(errors.New("unreachable"))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.True(t, m.check(ctx))
}

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditLog(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	subscribeAudit(bus, logger)

	bus.Publish(
		event.SagaTerminalEventType,
		event.NewEvent(event.SagaTerminalEventType, event.SagaTerminalEvent{
			RunID:        "run-1",
			Operation:    "issue",
			Address:      "addr-1",
			Outcome:      "Upload",
			ErrorKind:    "Upload",
			RecordExists: "present",
			Recovery:     "attach-later",
		}),
	)
	bus.Publish(
		event.AuthzVerdictEventType,
		event.NewEvent(event.AuthzVerdictEventType, event.AuthzVerdictEvent{
			Principal: "principal-1",
			Status:    "authorized",
			Previous:  "unknown",
			Phase:     "confirmed",
		}),
	)
	testutil.WaitForCondition(t, func() bool {
		s := out.String()
		return strings.Contains(s, `"msg":"write failed"`) &&
			strings.Contains(s, `"msg":"authorization changed"`)
	}, 5*time.Second, "audit entries not logged")
	assert.Contains(t, out.String(), `"recovery":"attach-later"`)
	assert.Contains(t, out.String(), `"component":"audit"`)
}
