package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seatworks/seatidp/internal/admin"
	"github.com/seatworks/seatidp/internal/protocols/oauth2"
	"github.com/seatworks/seatidp/internal/protocols/oidc"
	"github.com/seatworks/seatidp/internal/protocols/saml"
)

// Server is the identity provider's HTTP front end.
type Server struct {
	deps   *BootstrapResult
	router chi.Router
}

// NewServer wires the protocol handlers onto a configured router.
func NewServer(deps *BootstrapResult) *Server {
	s := &Server{deps: deps}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	cfg := s.deps.Config
	log := s.deps.Log

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery(log.WithField("component", "http")))
	r.Use(RequestLogger(log.WithField("component", "http")))
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	rateLimiter := NewRateLimiter(300, time.Minute)
	r.Use(rateLimiter.Limit)

	// Health check
	r.Get("/health", s.handleHealth)

	// Host directory login pages
	r.Get("/login", s.deps.Directory.HandleLoginPage)
	r.Post("/login", s.deps.Directory.HandleLogin)
	r.Post("/logout", s.deps.Directory.HandleLogout)

	// Protocol engines
	oauth2.NewHandler(s.deps.Store, s.deps.Issuer, s.deps.Directory, log.WithField("component", "oauth2")).Mount(r)
	oidc.NewHandler(s.deps.Store, s.deps.Keys, s.deps.Issuer, s.deps.Claims, cfg.BaseURL, log.WithField("component", "oidc")).Mount(r)
	saml.NewHandler(s.deps.Store, s.deps.Directory, s.deps.Claims, cfg.BaseURL, log.WithField("component", "saml")).Mount(r)

	// Management API
	admin.NewHandler(s.deps.Store, s.deps.Keys, cfg.AdminToken, cfg.BaseURL, log.WithField("component", "admin")).Mount(r)

	s.router = r
}

// Health check response
type HealthResponse struct {
	Status    string   `json:"status"`
	Protocols []string `json:"protocols"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Protocols: []string{"oauth2", "oidc", "saml"},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
