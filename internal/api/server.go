// Package api exposes the service boundary over JSON/HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"followcast/internal/campaign"
	"followcast/internal/model"
	"followcast/internal/query"
	"followcast/internal/service"

	"github.com/go-chi/chi/v5"
)

// Backend is the set of boundary operations the API serves.
type Backend interface {
	GetCacheStatus(ctx context.Context, account string) (model.CacheStatus, error)
	BuildCache(account, mode string) (service.BuildAck, error)
	QueryFollowers(ctx context.Context, p query.Params) ([]model.Follower, error)
	RunCampaign(d campaign.Descriptor) (service.CampaignAck, error)
	CampaignStatus(account string) (campaign.Snapshot, error)
}

var _ Backend = (*service.Service)(nil)

// Server routes HTTP requests to a Backend.
type Server struct {
	router  chi.Router
	backend Backend
	feed    *Feed
}

func NewServer(backend Backend, feed *Feed) *Server {
	s := &Server{router: chi.NewRouter(), backend: backend, feed: feed}
	s.router.Use(loggingMiddleware)
	s.router.Use(recoveryMiddleware)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/cache", s.handleCacheStatus)
		r.Post("/cache", s.handleBuildCache)
		r.Get("/followers", s.handleFollowers)
		r.Get("/campaign", s.handleCampaignStatus)
	})
	s.router.Post("/campaigns", s.handleRunCampaign)
	s.router.Get("/events", s.handleEvents)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// HTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.GetCacheStatus(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleBuildCache(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	// An empty body means the default mode.
	if err := parseJSONBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}
	ack, err := s.backend.BuildCache(chi.URLParam(r, "account"), body.Mode)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := query.Params{
		Account:    chi.URLParam(r, "account"),
		CampaignID: q.Get("campaign"),
		Sort:       model.SortMode(q.Get("sort")),
	}
	if raw := q.Get("tags"); raw != "" {
		p.Tags = strings.Split(raw, ",")
	}
	var bad map[string]any
	intParam := func(name string) *int {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			bad = map[string]any{name: raw}
			return nil
		}
		return &n
	}
	boolParam := func(name string) bool {
		raw := q.Get(name)
		if raw == "" {
			return false
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			bad = map[string]any{name: raw}
		}
		return b
	}
	p.Offset = intParam("offset")
	p.Limit = intParam("limit")
	p.IncludeContacted = boolParam("include_contacted")
	p.Rehearsal = boolParam("rehearsal")
	if bad != nil {
		respondError(w, http.StatusBadRequest, service.CodeInvalidInput, "malformed query parameter", bad)
		return
	}
	rows, err := s.backend.QueryFollowers(r.Context(), p)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": rows, "count": len(rows)})
}

func (s *Server) handleRunCampaign(w http.ResponseWriter, r *http.Request) {
	var d campaign.Descriptor
	if err := parseJSONBody(w, r, &d); err != nil {
		respondError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}
	ack, err := s.backend.RunCampaign(d)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.backend.CampaignStatus(chi.URLParam(r, "account"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, service.CodeInvalidInput, "after must be a sequence number", map[string]any{"after": raw})
			return
		}
		after = n
	}
	items := []FeedItem{}
	if s.feed != nil {
		items = s.feed.After(after)
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": items})
}
