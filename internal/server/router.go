// Package server assembles the HTTP mux and middleware chain.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentrel/sentrel/internal/handlers"
	"github.com/sentrel/sentrel/internal/middleware"
)

// Options carries everything the router needs.
type Options struct {
	Ingest  *handlers.Ingest
	Ops     *handlers.Ops
	CORS    middleware.CORSConfig
	Limiter middleware.Limiter
}

// NewRouter builds the route table and wraps it in the middleware chain:
// request ID, CORS, then rate limiting.
func NewRouter(opts Options) http.Handler {
	mux := http.NewServeMux()

	// SDK-facing ingestion endpoints. Trailing slash is part of the
	// Sentry protocol paths; {$} pins the match to it.
	mux.HandleFunc("POST /api/{project_id}/envelope/{$}", opts.Ingest.HandleEnvelope)
	mux.HandleFunc("POST /api/{project_id}/store/{$}", opts.Ingest.HandleStore)
	mux.HandleFunc("POST /api/{project_id}/minidump/{$}", opts.Ingest.HandleMinidump)
	mux.HandleFunc("POST /api/{project_id}/security/{$}", opts.Ingest.HandleSecurity)
	mux.HandleFunc("GET /api/{project_id}/{$}", opts.Ingest.HandleProbe)

	// Operational endpoints, exempt from rate limiting.
	mux.HandleFunc("GET /health", opts.Ops.HandleHealth)
	mux.HandleFunc("GET /ready", opts.Ops.HandleReady)
	mux.HandleFunc("GET /stats", opts.Ops.HandleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.RateLimit(opts.Limiter)(handler)
	handler = middleware.CORS(opts.CORS)(handler)
	handler = middleware.RequestID(handler)
	return handler
}
