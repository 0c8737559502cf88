/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ControlMessagesTotal counts control messages delivered by the control worker.
	ControlMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioservice_control_messages_total",
		Help: "Control messages delivered to the control sink by kind",
	}, []string{"kind"})

	// ControlQueueDepth is the number of control messages waiting for the worker.
	ControlQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audioservice_control_queue_depth",
		Help: "Control messages queued and not yet delivered",
	})

	// ControlSinkFailuresTotal counts failed deliveries per sink.
	ControlSinkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioservice_control_sink_failures_total",
		Help: "Control message deliveries that failed, by sink",
	}, []string{"sink"})

	// SessionsConfigured is the fixed size of the session pool.
	SessionsConfigured = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audioservice_sessions",
		Help: "Number of playback sessions in the pool",
	})

	// SessionSourceLoadsTotal counts sources loaded into sessions.
	SessionSourceLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioservice_session_source_loads_total",
		Help: "Sources loaded into a session",
	}, []string{"session"})

	// SessionErrorsTotal counts warning and error events reported by engines.
	SessionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioservice_session_errors_total",
		Help: "Playback problems reported by a session's engine, by severity",
	}, []string{"session", "severity"})

	// ScheduledTasksTotal counts scheduled source loads by result.
	ScheduledTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioservice_scheduled_tasks_total",
		Help: "Scheduled source loads fired, by result",
	}, []string{"result"})

	// HTTPRequestsTotal counts status server requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioservice_http_requests_total",
		Help: "Status server requests",
	}, []string{"method", "endpoint", "status"})

	// HTTPRequestDuration observes status server latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audioservice_http_request_duration_seconds",
		Help:    "Status server request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// EventStreamClients is the number of connected /events websocket clients.
	EventStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audioservice_event_stream_clients",
		Help: "Connected control event websocket clients",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
