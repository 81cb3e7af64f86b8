package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tradejournal/internal/auth"
	"tradejournal/internal/backend"
	"tradejournal/internal/metrics"
)

// DefaultPingInterval is how often the change feed pings idle clients.
const DefaultPingInterval = 30 * time.Second

// Options configures the router. Only Verifier is required for the trade
// routes; the rest have defaults.
type Options struct {
	Verifier       auth.Verifier
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	PingInterval   time.Duration
}

// NewRouter builds the HTTP API router.
func NewRouter(svc *backend.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger, opts.Metrics))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	h := &handler{
		svc:      svc,
		verifier: opts.Verifier,
		metrics:  opts.Metrics,
		logger:   logger,
		ping:     ping,
	}

	r.Get("/api/health", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requireOwner)

		r.Get("/api/me", h.me)

		// Trades
		r.Get("/api/trades", h.listTrades)
		r.Post("/api/trades", h.createTrade)
		r.Put("/api/trades/{id}", h.replaceTrade)
		r.Delete("/api/trades/{id}", h.deleteTrade)
		r.Get("/api/trades/feed", h.feed)
		r.Get("/api/trades/history", h.history)

		// Dashboard
		r.Get("/api/summary", h.summary)
	})

	return r
}

type handler struct {
	svc      *backend.Service
	verifier auth.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	ping     time.Duration
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
