// Copyright 2025 Tetrate
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

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

const metricsNamespace = "gateway_helper"

// Transports label values.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Metrics holds the admission metrics and the registry they are exposed from.
type Metrics struct {
	registry *prometheus.Registry

	admissions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	faults     *prometheus.CounterVec
}

// NewMetrics creates the admission metrics in a dedicated registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "admission_total",
				Help:      "Total number of admission decisions by transport and HTTP status.",
			},
			[]string{"transport", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "admission_duration_seconds",
				Help:      "Admission chain execution duration in seconds.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"transport"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "admission_faults_total",
				Help:      "Total number of admission chain faults by unit.",
			},
			[]string{"unit"},
		),
	}

	m.registry.MustRegister(
		m.admissions,
		m.duration,
		m.faults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records a single admission decision.
func (m *Metrics) Observe(transport string, d inthttp.Disposition, res admission.Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(transport, strconv.Itoa(d.StatusCode)).Inc()
	m.duration.WithLabelValues(transport).Observe(elapsed.Seconds())
	if res.Outcome == admission.Faulted {
		m.faults.WithLabelValues(res.Unit).Inc()
	}
}
