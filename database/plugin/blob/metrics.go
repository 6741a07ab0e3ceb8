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

package blob

import "github.com/prometheus/client_golang/prometheus"

const metricNamePrefix = "attest_blob_"

// Metrics counts uploads for a blob store. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
}

// NewMetrics registers upload metrics labeled with the store name. It
// returns nil when no registry is supplied.
func NewMetrics(registry prometheus.Registerer, storeName string) *Metrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"store": storeName}
	m := &Metrics{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricNamePrefix + "uploads_total",
				Help:        "Total number of attachment uploads by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		uploadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        metricNamePrefix + "upload_bytes_total",
				Help:        "Total bytes of successfully uploaded attachments",
				ConstLabels: labels,
			},
		),
	}
	registry.MustRegister(m.uploads, m.uploadBytes)
	return m
}

// ObserveUpload records the outcome of one upload. Deduplicated uploads
// count as successes without adding bytes.
func (m *Metrics) ObserveUpload(size int, stored bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.uploads.WithLabelValues("error").Inc()
	case !stored:
		m.uploads.WithLabelValues("duplicate").Inc()
	default:
		m.uploads.WithLabelValues("ok").Inc()
		m.uploadBytes.Add(float64(size))
	}
}
