package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"bookpipeline/internal/batch"
	"bookpipeline/internal/catalog"
	"bookpipeline/internal/debuglog"
	"bookpipeline/internal/health"
	"bookpipeline/internal/httpx"
	"bookpipeline/internal/platform/callbacktoken"
	"bookpipeline/internal/recovery"
	"bookpipeline/internal/run"
)

// handlers bundles everything the router serves.
type handlers struct {
	runs     *run.HTTPHandler
	batches  *batch.HTTPHandler
	recovery *recovery.HTTPHandler
	catalog  *catalog.HTTPHandler
	health   *health.HTTPHandler
	logs     *debuglog.HTTPHandler
	metrics  http.Handler
	// ready reports whether storage is reachable.
	ready func(ctx context.Context) error
}

type routerOptions struct {
	internalSecret string
	// callbacks verifies executor callback tokens. A nil pointer disables
	// token auth.
	callbacks      *callbacktoken.Issuer
	allowedOrigins []string
	rateLimit      *httpx.RateLimitMiddleware
	maxBodyBytes   int64
}

func newRouter(h handlers, opts routerOptions, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if h.ready != nil {
			if err := h.ready(ctx); err != nil {
				http.Error(w, "storage not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	mux.HandleFunc("POST /v1/runs", h.runs.Submit)
	mux.HandleFunc("GET /v1/runs/{id}", h.runs.Poll)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", h.runs.Cancel)
	mux.HandleFunc("POST /v1/runs/{id}/abort", h.runs.Abort)
	mux.HandleFunc("POST /v1/runs/{id}/retry", h.runs.Retry)

	mux.HandleFunc("GET /v1/batches", h.batches.List)
	mux.HandleFunc("GET /v1/batches/stats", h.batches.Stats)
	mux.HandleFunc("GET /v1/batches/{id}", h.batches.Get)
	mux.HandleFunc("GET /v1/batches/{id}/resume", h.recovery.CheckResume)
	mux.HandleFunc("POST /v1/batches/{id}/resume", h.recovery.Resume)
	mux.HandleFunc("GET /v1/batches/{id}/rollback", h.recovery.CheckRollback)
	mux.HandleFunc("POST /v1/batches/{id}/rollback", h.recovery.Rollback)

	mux.HandleFunc("GET /v1/catalog/books/{ref}", h.catalog.GetByRef)
	mux.HandleFunc("GET /v1/health", h.health.Health)
	mux.HandleFunc("GET /v1/debug/logs", h.logs.Logs)

	var verifier httpx.CallbackVerifier
	if opts.callbacks != nil {
		verifier = opts.callbacks
	}
	internal := httpx.InternalAuthMiddleware(opts.internalSecret, verifier)
	mux.Handle("POST /internal/runs/{id}/nodes/{node}", internal(http.HandlerFunc(h.runs.AdvanceNode)))

	mws := []func(http.Handler) http.Handler{
		httpx.RequestIDMiddleware,
		httpx.RecoveryMiddleware(logger),
		httpx.AccessLogMiddleware(logger),
		httpx.CORSMiddleware(opts.allowedOrigins),
		httpx.SecurityHeadersMiddleware,
	}
	if opts.maxBodyBytes > 0 {
		mws = append(mws, httpx.RequestSizeLimitMiddleware(opts.maxBodyBytes))
	}
	if opts.rateLimit != nil {
		mws = append(mws, opts.rateLimit.Middleware)
	}
	return httpx.Chain(mux, mws...)
}
