// Copyright 2026 Nexiot GmbH
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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexiot/shadow-core/pkg/logger"
)

// Component labels.
const (
	ComponentCoordinator = "coordinator"
	ComponentNotifier    = "notifier"
	ComponentGateway     = "gateway"
	ComponentIngest      = "ingest"
	ComponentStore       = "store"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "nexiot"
	subsystem = "shadow"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	// Accepted shadow writes by namespace section.
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "writes_total",
			Help:      "Total number of accepted shadow writes by section",
		},
		[]string{"section"},
	)

	// Rejected desired-state writes.
	versionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "version_conflicts_total",
			Help:      "Total number of writes rejected with a version conflict",
		},
	)

	// Write latency through the coordinator.
	writeDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_duration_milliseconds",
			Help:      "Time taken to accept a shadow write (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"section"},
	)

	// Notifier fan-out.
	eventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total number of change events published to the notifier",
		},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped for slow subscribers (drop-oldest policy)",
		},
	)

	// Live gateway state.
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Number of live websocket sessions",
		},
	)

	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_subscriptions",
			Help:      "Number of (connection, device) subscription pairs",
		},
	)

	// MQTT ingestion.
	ingestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingest_messages_total",
			Help:      "Total number of device messages received on the ingestion path",
		},
		[]string{"outcome"},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// ObserveWrite records one accepted write and its latency for a section
// ("reported" or "desired").
func ObserveWrite(section string, duration time.Duration) {
	writesTotal.WithLabelValues(section).Inc()
	writeDuration.WithLabelValues(section).Observe(float64(duration.Milliseconds()))
}

// IncVersionConflict records a rejected optimistic-concurrency write.
func IncVersionConflict() {
	versionConflictsTotal.Inc()
}

// IncEventPublished records one event handed to the notifier.
func IncEventPublished() {
	eventsPublishedTotal.Inc()
}

// IncEventDropped records one event discarded from a slow subscriber queue.
func IncEventDropped() {
	eventsDroppedTotal.Inc()
}

// SessionOpened / SessionClosed track the live session gauge.
func SessionOpened() { activeSessions.Inc() }

func SessionClosed() { activeSessions.Dec() }

// SetSubscriptions sets the subscription-pair gauge.
func SetSubscriptions(n int) {
	activeSubscriptions.Set(float64(n))
}

// IncIngestMessage records one inbound device message with its outcome
// ("accepted", "rejected", or "malformed").
func IncIngestMessage(outcome string) {
	ingestMessagesTotal.WithLabelValues(outcome).Inc()
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For("metrics").Errorf("Metrics server failed: %v", err)
		}
	}()

	return server
}
