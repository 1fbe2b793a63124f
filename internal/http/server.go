// Package http exposes the accounting engine as a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	applog "bilancio/internal/log"
	"bilancio/internal/middleware/ratelimit"
	"bilancio/internal/middleware/security"
	"bilancio/internal/middleware/trace"
	"bilancio/internal/services"
)

const readyTimeout = 2 * time.Second

// Options configures NewServer. Engine is required; the rest have defaults.
type Options struct {
	Addr              string
	Engine            *services.Engine
	Health            func(ctx context.Context) error
	Logger            *applog.Logger
	RequestsPerMinute int
	TrustedProxies    []string
	Now               func() time.Time
}

type Server struct {
	http.Server
	engine   *services.Engine
	health   func(ctx context.Context) error
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	now      func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("http server: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, fmt.Errorf("http server: %w", err)
		}
	}

	rl := ratelimit.DefaultConfig()
	if opts.RequestsPerMinute > 0 {
		rl.RequestsPerMinute = opts.RequestsPerMinute
	}

	s := &Server{
		engine:   opts.Engine,
		health:   opts.Health,
		limiter:  ratelimit.NewLimiter(rl),
		detector: detector,
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
		now:      now,
	}
	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.tracer.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.recoverer)
	r.Use(s.rejectSuspicious)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { NotFoundRoute().Write(w) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { MethodNotAllowedError().Write(w) })

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.rateKey, func(w http.ResponseWriter, r *http.Request) {
			TooManyRequestsError().Write(w)
		}))

		r.Route("/budgets", func(r chi.Router) {
			r.Get("/", s.handleListBudgets)
			r.Put("/", s.handleUpsertBudget)
			r.Get("/summary", s.handleBudgetSummary)
			r.Get("/{id}", s.handleGetBudget)
		})
		r.Route("/weekly", func(r chi.Router) {
			r.Get("/", s.handleWeeklyMonth)
			r.Put("/", s.handleUpsertWeekly)
			r.Get("/{id}", s.handleGetWeekly)
			r.Delete("/{id}", s.handleDeleteWeekly)
		})
		r.Route("/highlights", func(r chi.Router) {
			r.Get("/", s.handleResolvedHighlights)
			r.Get("/selections", s.handleListHighlights)
			r.Post("/toggle", s.handleToggleHighlight)
		})
		r.Get("/calendar", s.handleCalendar)
	})
	return r
}

// rateKey limits per owner, falling back to the client address for
// anonymous callers.
func (s *Server) rateKey(r *http.Request) string {
	if owner := ownerID(r); owner != "" {
		return "owner:" + owner
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) rejectSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request rejected",
				applog.FieldPath, r.URL.Path,
				applog.FieldClientIP, s.detector.ExtractClientIP(r))
			BadRequestError("Richiesta non valida.").Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				writeError(r.Context(), w, "panic", fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.health(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", applog.FieldError, err.Error())
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", "Servizio non pronto.").Write(w)
			return
		}
	}
	NewJSONResponse().Body(map[string]string{"status": "ready"}).Write(w)
}

// Shutdown stops accepting requests and releases the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}
