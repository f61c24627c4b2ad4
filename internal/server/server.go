// Package server exposes the scraped output over read-only HTTP, so a map
// frontend can consume the per-city GeoJSON directly.
package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/carnamapa/carnamapa/internal/config"
	"github.com/carnamapa/carnamapa/internal/store"
)

// Server serves city collections and the latest run report.
type Server struct {
	registry   *config.CityRegistry
	store      *store.Store
	reportPath string
}

// New creates a server over the given registry and output store.
func New(registry *config.CityRegistry, st *store.Store, reportPath string) *Server {
	return &Server{registry: registry, store: st, reportPath: reportPath}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/cities", s.handleCities)
	r.Get("/cities/{slug}", s.handleCity)
	r.Get("/report", s.handleReport)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cityListing struct {
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Blocks int    `json:"blocks"`
}

func (s *Server) handleCities(w http.ResponseWriter, _ *http.Request) {
	out := make([]cityListing, 0)
	for _, c := range s.registry.All() {
		entry := cityListing{Slug: c.Slug, Name: c.Name}
		if col, err := s.store.Load(c.Slug); err == nil && col != nil {
			entry.Blocks = len(col.Features)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCity(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, ok := s.registry.Get(slug); !ok {
		http.Error(w, `{"error":"unknown city"}`, http.StatusNotFound)
		return
	}

	raw, err := os.ReadFile(s.store.Path(slug))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, `{"error":"city not scraped yet"}`, http.StatusNotFound)
			return
		}
		zap.L().Error("reading city file", zap.String("slug", slug), zap.Error(err))
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(raw)
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	raw, err := os.ReadFile(s.reportPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, `{"error":"no report yet"}`, http.StatusNotFound)
			return
		}
		zap.L().Error("reading run report", zap.Error(err))
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encoding response", zap.Error(err))
	}
}
