// Package web provides the HTTP server and handlers for the mail-merge UI
// and its JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/schema"

	"github.com/JonMunkholm/csvmailer/internal/config"
	"github.com/JonMunkholm/csvmailer/internal/core"
	appmw "github.com/JonMunkholm/csvmailer/internal/web/middleware"
)

// readTimeout bounds the handlers that never send mail.
const readTimeout = 30 * time.Second

// Server is the HTTP server for the mail-merge application.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	limiter *rateLimiter
	flashes *flashStore
	forms   *schema.Decoder
}

// NewServer creates a Server for service using cfg.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	forms := schema.NewDecoder()
	forms.IgnoreUnknownKeys(true)

	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
		flashes: newFlashStore(cfg.Security.SecretKey),
		forms:   forms,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled && s.cfg.Rate.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(s.limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	// Sending holds the request open for the whole batch, so only the
	// read-only routes get a handler timeout.
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(readTimeout))
		r.Get("/", s.handleIndex)
		r.Get("/history", s.handleHistoryPage)
		r.Get("/healthz", s.handleHealth)
	})
	s.router.Post("/send", s.handleSendForm)

	s.router.Route("/api", func(r chi.Router) {
		// cors treats an empty origin list as "*", so stay same-origin unless
		// origins are configured.
		if origins := s.cfg.Security.AllowedOrigins; len(origins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: origins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
				ExposedHeaders: []string{"X-Request-Id"},
				MaxAge:         300,
			}))
		}
		r.Use(appmw.APIKeyAuth(&s.cfg.Security))

		r.Get("/providers", s.handleProviders)
		r.Get("/history", s.handleHistory)
		r.Get("/status", s.handleStatus)
		r.Post("/send", s.handleSendAPI)
		r.Post("/check", s.handleCheckAPI)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; form-action 'self'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logFor(r).Error("json encode failed", "error", err)
	}
}
