// Package server exposes the JSON API consumed by the operator dashboard.
package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jwirth/marktradar/internal/stats"
	"github.com/jwirth/marktradar/internal/store"
)

// Server provides the HTTP API: read-only pipeline state plus the operator
// write paths for searches and settings.
type Server struct {
	store store.Store
	stats *stats.Stats
	log   *slog.Logger
	port  int
}

// New creates a new HTTP server.
func New(st store.Store, counters *stats.Stats, port int, log *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, stats: counters, log: log.With("component", "server"), port: port}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/searches", s.handleListSearches)
	mux.HandleFunc("POST /api/v1/searches", s.handleAddSearch)
	mux.HandleFunc("GET /api/v1/items", s.handleItems)
	mux.HandleFunc("GET /api/v1/items/{id}/image", s.handleItemImage)
	mux.HandleFunc("GET /api/v1/items/{id}/prices", s.handleItemPrices)
	mux.HandleFunc("GET /api/v1/errors", s.handleErrors)
	mux.HandleFunc("PUT /api/v1/settings", s.handleUpdateSettings)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("api listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalItems, err := s.store.CountItems(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.store.CountPendingNotifications(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	activeSearches, err := s.store.CountActiveSearches(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"process":         s.stats.Snapshot(),
		"total_items":     totalItems,
		"pending_notify":  pending,
		"active_searches": activeSearches,
	})
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	searches, err := s.store.ListSearches(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": searches, "count": len(searches)})
}

func (s *Server) handleAddSearch(w http.ResponseWriter, r *http.Request) {
	var search store.Search
	if err := json.NewDecoder(r.Body).Decode(&search); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if search.URL == "" || search.ChatID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url and chat_id are required"})
		return
	}
	search.ID = 0
	if err := s.store.AddSearch(r.Context(), &search); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, search)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	opts := store.ItemListOpts{Limit: 100}
	if v := r.URL.Query().Get("search_id"); v != "" {
		opts.SearchID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}

	items, err := s.store.ListItems(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items, "count": len(items)})
}

// handleItemImage serves the stored inline image, or 404 when none was
// acquired — the dashboard then falls back to the original image URL.
func (s *Server) handleItemImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item id"})
		return
	}

	data, err := s.store.ItemImage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if data == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no image stored"})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		writeError(w, fmt.Errorf("decode stored image %d: %w", id, err))
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(raw))
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func (s *Server) handleItemPrices(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item id"})
		return
	}
	points, err := s.store.PriceHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": points, "count": len(points)})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	events, err := s.store.ListErrorEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events, "count": len(events)})
}

// handleUpdateSettings applies key/value updates; each write bumps the
// settings revision, which running cycles pick up at their next safe point.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}

	for key, value := range updates {
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, err)
			return
		}
	}

	rev, err := s.store.SettingsRevision(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(updates), "revision": rev})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
