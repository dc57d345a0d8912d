// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the HTTP surface: the ask stream, site listing,
// conversation CRUD, the MCP endpoint, and static assets.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/conversation"
	"github.com/schemaseek/schemaseek/pkg/metrics"
	"github.com/schemaseek/schemaseek/pkg/pipeline"
)

// SiteRetriever is the retrieval surface the server needs beyond what
// the pipeline uses.
type SiteRetriever interface {
	pipeline.Retriever
	GetSites(ctx context.Context) []string
}

// Server wires the HTTP surface to the pipeline and its collaborators.
type Server struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	retriever SiteRetriever
	storage   conversation.Storage
	version   string

	httpServer *http.Server
}

func New(cfg *config.Config, p *pipeline.Pipeline, retriever SiteRetriever, storage conversation.Storage, version string) *Server {
	s := &Server{
		cfg:       cfg,
		pipeline:  p,
		retriever: retriever,
		storage:   storage,
		version:   version,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORS.AllowedOrigins,
		AllowedMethods: s.cfg.Server.CORS.AllowedMethods,
		AllowedHeaders: s.cfg.Server.CORS.AllowedHeaders,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Get("/ask", s.handleAsk)
	r.Post("/ask", s.handleAsk)
	r.Get("/sites", s.handleSites)
	r.Get("/who", s.handleWho)

	r.Handle("/mcp", s.mcpHandler())

	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", s.handleGetConversations)
		r.Post("/", s.handleAddConversation)
		r.Delete("/{conversationID}", s.handleDeleteConversation)
	})

	r.Get("/oauth/callback", s.handleOAuthCallback)
	r.Get("/api/oauth/config", s.handleOAuthConfig)

	staticDir := s.cfg.Server.Static.Dir
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, filepath.Join(staticDir, "index.html"))
	})
	r.Get("/static/*", s.staticHandler("/static/", staticDir))
	r.Get("/html/*", s.staticHandler("/html/", staticDir))

	return r
}

// staticHandler serves files under dir with the configured cache header.
func (s *Server) staticHandler(prefix, dir string) http.HandlerFunc {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	maxAge := s.cfg.Server.Static.CacheMaxAge
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
		fs.ServeHTTP(w, req)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "address", s.httpServer.Addr, "ssl", s.cfg.Server.SSL.Enabled)
		var err error
		if s.cfg.Server.SSL.Enabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.SSL.CertFile, s.cfg.Server.SSL.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleSites lists known sites as JSON or, when streaming is requested,
// as a one-message SSE stream.
func (s *Server) handleSites(w http.ResponseWriter, req *http.Request) {
	sites := s.retriever.GetSites(req.Context())
	if allowed := s.cfg.App.AllowedSites; len(allowed) > 0 && len(sites) == 0 {
		sites = append(sites, allowed...)
		sort.Strings(sites)
	}

	payload := map[string]any{"message_type": "sites", "sites": sites}

	if parseStreaming(req.URL.Query().Get("streaming")) && req.URL.Query().Has("streaming") {
		emitter, err := newSSEEmitter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer emitter.Close()
		_ = emitter.Send(payload)
		return
	}

	writeJSON(w, http.StatusOK, payload)
}

// handleWho returns the top sites for a query by counting the sites of a
// cross-site retrieval.
func (s *Server) handleWho(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query().Get("query")
	if query == "" {
		query = req.URL.Query().Get("q")
	}
	if query == "" {
		http.Error(w, "query parameter required", http.StatusBadRequest)
		return
	}

	items := s.retriever.Search(req.Context(), query, "all", 50)
	counts := make(map[string]int)
	for _, item := range items {
		if item.Site != "" {
			counts[item.Site]++
		}
	}

	type siteCount struct {
		Site  string `json:"site"`
		Count int    `json:"count"`
	}
	ranked := make([]siteCount, 0, len(counts))
	for site, count := range counts {
		ranked = append(ranked, siteCount{Site: site, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Site < ranked[j].Site
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	writeJSON(w, http.StatusOK, map[string]any{"sites": ranked})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, req *http.Request) {
	if !s.cfg.OAuth.Enabled {
		http.Error(w, "oauth not configured", http.StatusNotFound)
		return
	}
	// The SPA completes the token exchange; the callback just bounces the
	// authorization code back to it.
	http.Redirect(w, req, "/?code="+req.URL.Query().Get("code"), http.StatusFound)
}

func (s *Server) handleOAuthConfig(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   s.cfg.OAuth.Enabled,
		"provider":  s.cfg.OAuth.Provider,
		"client_id": s.cfg.OAuth.ClientID(),
		"auth_url":  s.cfg.OAuth.AuthURL,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write JSON response", "error", err)
	}
}
