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
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/attest/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultPingTimeout = 5 * time.Second

// connectivityMonitor pings the ledger endpoint and reports whether it is
// reachable. The endpoint is assumed online until a ping fails.
type connectivityMonitor struct {
	pinger      ledger.Pinger
	logger      *slog.Logger
	onReconnect func()
	gauge       prometheus.Gauge
	interval    time.Duration
	timeout     time.Duration
	offline     atomic.Bool
}

func newConnectivityMonitor(
	pinger ledger.Pinger,
	interval time.Duration,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) *connectivityMonitor {
	m := &connectivityMonitor{
		pinger:   pinger,
		logger:   logger.With("component", "node"),
		interval: interval,
		timeout:  min(defaultPingTimeout, interval),
	}
	if promRegistry != nil {
		m.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attest_ledger_online",
			Help: "Whether the ledger endpoint answered the last ping",
		})
		promRegistry.MustRegister(m.gauge)
		m.gauge.Set(1)
	}
	return m
}

// Online implements authz.Connectivity
func (m *connectivityMonitor) Online() bool {
	return !m.offline.Load()
}

// check pings the endpoint once and returns the current state
func (m *connectivityMonitor) check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pingCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return m.Online()
		}
		if !m.offline.Swap(true) {
			m.logger.Warn("ledger endpoint unreachable", "error", err)
		}
		m.setGauge(0)
		return false
	}
	if m.offline.Swap(false) {
		m.logger.Info("ledger endpoint reachable again")
		if m.onReconnect != nil {
			m.onReconnect()
		}
	}
	m.setGauge(1)
	return true
}

func (m *connectivityMonitor) setGauge(v float64) {
	if m.gauge != nil {
		m.gauge.Set(v)
	}
}

// run pings until ctx is done
func (m *connectivityMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}
