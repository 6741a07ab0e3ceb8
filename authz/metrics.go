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

import "github.com/prometheus/client_golang/prometheus"

type cacheMetrics struct {
	revalidations *prometheus.CounterVec
	networkReads  *prometheus.CounterVec
	triggers      *prometheus.CounterVec
}

func newCacheMetrics(registry prometheus.Registerer) *cacheMetrics {
	if registry == nil {
		return nil
	}
	m := &cacheMetrics{
		revalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attest_authz_revalidations_total",
				Help: "Authorization revalidations by outcome",
			},
			[]string{"outcome"},
		),
		networkReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attest_authz_registry_reads_total",
				Help: "Registry account reads by result",
			},
			[]string{"result"},
		),
		triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attest_authz_triggers_total",
				Help: "Revalidation triggers by reason",
			},
			[]string{"reason"},
		),
	}
	registry.MustRegister(m.revalidations, m.networkReads, m.triggers)
	return m
}

func (m *cacheMetrics) revalidation(outcome string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(outcome).Inc()
}

func (m *cacheMetrics) networkRead(result string) {
	if m == nil {
		return
	}
	m.networkReads.WithLabelValues(result).Inc()
}

func (m *cacheMetrics) trigger(reason TriggerReason) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(string(reason)).Inc()
}
