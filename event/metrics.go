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

package event

import "github.com/prometheus/client_golang/prometheus"

type eventMetrics struct {
	eventsTotal   *prometheus.CounterVec
	droppedTotal  *prometheus.CounterVec
	subscriberCnt *prometheus.GaugeVec
}

func newEventMetrics(registry prometheus.Registerer) *eventMetrics {
	m := &eventMetrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attest_events_published_total",
				Help: "Events published on the event bus",
			},
			[]string{"type"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attest_events_dropped_total",
				Help: "Events dropped because a queue was full",
			},
			[]string{"type", "reason"},
		),
		subscriberCnt: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "attest_event_subscribers",
				Help: "Current event bus subscribers",
			},
			[]string{"type"},
		),
	}
	registry.MustRegister(m.eventsTotal, m.droppedTotal, m.subscriberCnt)
	return m
}

func (m *eventMetrics) published(eventType EventType) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(eventType)).Inc()
}

func (m *eventMetrics) dropped(eventType EventType, reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(string(eventType), reason).Inc()
}

func (m *eventMetrics) subscriberAdded(eventType EventType) {
	if m == nil {
		return
	}
	m.subscriberCnt.WithLabelValues(string(eventType)).Inc()
}

func (m *eventMetrics) subscriberRemoved(eventType EventType) {
	if m == nil {
		return
	}
	m.subscriberCnt.WithLabelValues(string(eventType)).Dec()
}
