/*
Package monitoring provides metrics collection for the visualization host.

# Overview

Metrics are collected with Prometheus client_golang on a registry owned by the
Metrics value rather than the global default registry.

# Features

- HTTP request metrics (latency, throughput by route)
- Pipeline pass outcomes and per-stage durations
- Stale pass discards
- Library load results, fetch counts and bytes
- WebSocket connection metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))

	timer := monitoring.NewTimer(metrics, "sanitize")
	// ... perform stage ...
	timer.Stop()
*/
package monitoring
