// Package httpapi is the local HTTP surface of the worker: health, the task
// queue REST API, event replay, the SSE relay and metrics.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/capabilities"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/store"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/store/postgres"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for dev mode (dashboard served from another origin).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// EventSource replays the recorded events of recent tasks.
type EventSource interface {
	Events(taskID string, since time.Time) ([]stream.Event, bool)
}

// ServerOptions configures the HTTP server (home dir, listen addr, API key, DB, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	Version        string
	APIKey         string       // if set, require X-API-Key header or query api_key
	Store          store.Store  // if nil, opened from DBDriver/DBURL/Home
	DBDriver       string       // "sqlite" (default) or "postgres"
	DBURL          string       // for postgres: connection string (or set DATABASE_URL env)
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
	SlackWebhook   string       // if set, registers the slack capability
}

// App holds the HTTP server, SSE hub, store, capabilities registry, and home path.
// Events and Active are set by the worker once it is running.
type App struct {
	Server       *http.Server
	Hub          *SSEHub
	Store        store.Store
	Capabilities *capabilities.Registry
	Home         string
	Version      string
	Events       EventSource
	Active       func() string
}

// OpenStore opens the task queue selected by driver.
func OpenStore(ctx context.Context, driver, dsn, home string) (store.Store, error) {
	switch driver {
	case "postgres":
		return postgres.Open(ctx, dsn)
	case "", "sqlite":
		return store.OpenWithOptions(store.OpenOptions{Home: home, DSN: dsn})
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

// NewApp creates the HTTP app (server, hub, store, capabilities) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	st := opts.Store
	if st == nil {
		var err error
		if st, err = OpenStore(context.Background(), opts.DBDriver, opts.DBURL, opts.Home); err != nil {
			return nil, err
		}
	}
	reg := capabilities.NewRegistry()
	if opts.SlackWebhook != "" {
		reg.Register("slack", capabilities.SlackWebhook{WebhookURL: opts.SlackWebhook, Username: "counsel"})
	}
	app := &App{Hub: NewSSEHub(), Store: st, Capabilities: reg, Home: opts.Home, Version: opts.Version}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", app.handleHealth)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("GET /metrics", app.handleTextMetrics)
	}
	mux.HandleFunc("GET /stream", app.Hub.Handler())
	mux.HandleFunc("GET /tasks", app.handleListTasks)
	mux.HandleFunc("POST /tasks", app.handleSubmitTask)
	mux.HandleFunc("GET /tasks/{id}", app.handleGetTask)
	mux.HandleFunc("POST /tasks/{id}/cancel", app.handleCancelTask)
	mux.HandleFunc("POST /tasks/{id}/requeue", app.handleRequeueTask)
	mux.HandleFunc("GET /tasks/{id}/events", app.handleTaskEvents)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "counsel")
	}
	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	app.Server.RegisterOnShutdown(app.Hub.Close)
	return app, nil
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/health" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Debug("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
