/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TraceMiddleware wraps an HTTP handler with OpenTelemetry instrumentation.
func TraceMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "hub-http")
}
