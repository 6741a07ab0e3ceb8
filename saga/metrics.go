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

package saga

import "github.com/prometheus/client_golang/prometheus"

type sagaMetrics struct {
	terminals *prometheus.CounterVec
}

func newSagaMetrics(registry prometheus.Registerer) *sagaMetrics {
	if registry == nil {
		return nil
	}
	m := &sagaMetrics{
		terminals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attest_saga_terminal_total",
				Help: "Write operations by terminal state",
			},
			[]string{"operation", "outcome"},
		),
	}
	registry.MustRegister(m.terminals)
	return m
}

func (m *sagaMetrics) terminal(operation, outcome string) {
	if m == nil {
		return
	}
	m.terminals.WithLabelValues(operation, outcome).Inc()
}
