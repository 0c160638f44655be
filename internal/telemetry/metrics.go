/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Hub-side connection registry metrics.
	DevicesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_devices_connected",
		Help: "Number of device agents with a live control connection.",
	})
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_reconnect_attempts_total",
		Help: "Reconnection attempts per device.",
	}, []string{"device"})
	DevicesUnreachable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_devices_unreachable_total",
		Help: "Devices marked unreachable after exhausting reconnect attempts.",
	}, []string{"device"})

	// Agent-side command queue metrics.
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_commands_executed_total",
		Help: "Control commands executed by method.",
	}, []string{"method"})
	CommandTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_command_timeouts_total",
		Help: "Control commands abandoned after the execution timeout.",
	}, []string{"method"})
	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_command_queue_depth",
		Help: "Commands waiting in the serialization queue.",
	})

	// Media cache metrics.
	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_cache_bytes",
		Help: "Total bytes of ready cache entries on disk.",
	})
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_cache_evictions_total",
		Help: "Cache entries deleted by the eviction algorithm.",
	})
	CacheDownloadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_cache_downloads_active",
		Help: "Cache downloads currently holding a semaphore slot.",
	})
	CacheDownloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hearth_cache_download_failures_total",
		Help: "Cache downloads that ended in an error (cancellations excluded).",
	})

	// Catalog collaborator metrics.
	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_catalog_requests_total",
		Help: "Requests to the media catalog by operation and outcome.",
	}, []string{"operation", "outcome"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
