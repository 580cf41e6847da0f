// Package server exposes an engine over HTTP.
//
//	POST /api/sessions            issue a session for an email
//	POST /api/sessions/anonymous  create an anonymous user and profile
//	DELETE /api/sessions          revoke the caller's session
//	GET  /api/me                  the caller's identity
//	POST /api/transact            submit a transaction
//	POST /api/query               evaluate a query once
//	GET  /api/subscribe           websocket stream of live-query results
//	GET  /health
//	GET  /metrics                 Prometheus
//
// Callers authenticate with "Authorization: Bearer <token>". Websocket
// clients may pass ?token= instead. Requests without a token act as a
// guest. With WithWriteLimit, writes over the caller's rate get 429
// RATE_LIMITED.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/identity"
	"github.com/roach88/livegraph/internal/ir"
)

// Server holds the HTTP handlers' dependencies.
type Server struct {
	engine   *engine.Engine
	identity *identity.Service
	validate *validator.Validate
	upgrader websocket.Upgrader
	limiter  *writeLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithWriteLimit caps transactions and session requests per caller at
// perSecond, allowing bursts of burst. Off by default.
func WithWriteLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = newWriteLimiter(perSecond, burst)
		}
	}
}

// New creates a server for e, authenticating through ids.
func New(e *engine.Engine, ids *identity.Service, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		identity: ids,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(s.limitWrites).Post("/sessions", s.issueSession)
		r.With(s.limitWrites).Post("/sessions/anonymous", s.bootstrapAnonymous)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Delete("/sessions", s.revokeSession)
			r.Get("/me", s.me)
			r.With(s.limitWrites).Post("/transact", s.transact)
			r.Post("/query", s.query)
			r.Get("/subscribe", s.subscribe)
		})
	})
	return r
}

type identityKey struct{}

// authenticate resolves the bearer token to an identity. A missing token
// is a guest; an unknown one is rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		var who ir.Identity
		if token != "" {
			var err error
			who, err = s.identity.GetSession(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
		}
		ctx := context.WithValue(r.Context(), identityKey{}, who)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func identityFrom(ctx context.Context) ir.Identity {
	who, _ := ctx.Value(identityKey{}).(ir.Identity)
	return who
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		requestsTotal.WithLabelValues(route, statusClass(ww.Status())).Inc()
		slog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func statusClass(code int) string {
	switch {
	case code == 0 || code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	}
	return "5xx"
}
