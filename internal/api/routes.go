package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouteOptions carries the settings Routes needs from config.
type RouteOptions struct {
	CORSOrigins  []string
	RateLimitRPM int
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Timeout time.Duration
}

func (h *Handler) Routes(m *Middleware, opts RouteOptions) *chi.Mux {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Timeout(opts.Timeout))
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(opts.CORSOrigins))

	// Health endpoints stay outside the rate limit
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(m.RateLimit(opts.RateLimitRPM))

		r.Get("/status", h.Status)
		r.Post("/flush", h.Flush)
		r.Get("/keys", h.ListKeys)

		r.Route("/record", func(r chi.Router) {
			r.Get("/", h.GetRecord)
			r.Get("/{key}", h.GetKey)
			r.Head("/{key}", h.HeadKey)
			r.Put("/{key}", h.PutKey)
		})
	})

	return r
}
