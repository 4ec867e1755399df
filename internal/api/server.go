package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/pagemerge/internal/config"
	"github.com/dgallion1/pagemerge/internal/session"
)

// Server is the HTTP API server for pagemerge.
type Server struct {
	router chi.Router
	svc    *session.Service
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(svc *session.Service, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		svc: svc,
		log: log,
		cfg: cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Get("/api/stats", s.handleStats)
		r.Post("/api/sessions", s.handleCreateSession)

		r.Route("/api/sessions/{sid}", func(r chi.Router) {
			r.Use(s.sessionCtx)

			r.Delete("/", s.handleClearSession)
			r.Post("/files", s.handleAddFiles)
			r.Get("/pages", s.handleListPages)
			r.Delete("/pages/{pageID}", s.handleRemovePage)
			r.Put("/pages/{pageID}/placement", s.handlePlacement)
			r.Get("/pages/{pageID}/preview.png", s.handlePreview)
			r.Get("/pages/{pageID}/thumbnail.png", s.handleThumbnail)
			r.Put("/order", s.handleReorder)
			r.Post("/viewport", s.handleViewport)
			r.Post("/exports", s.handleExport)
			r.Get("/notices", s.handleNotices)
		})

		r.Get("/api/exports/{jobID}/status", s.handleExportStatus)
		r.Get("/api/exports/{jobID}/file", s.handleExportFile)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
