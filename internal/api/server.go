// SPDX-License-Identifier: MIT

// Package api is the HTTP surface: track search and enqueue, library
// browsing, the SSE progress stream, and the admin endpoints. Handlers stay
// thin; admission and pipeline logic live behind the Dispatcher.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stemsync/stemsync/internal/config"
	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/deezer"
	"github.com/stemsync/stemsync/internal/dispatch"
	"github.com/stemsync/stemsync/internal/feed"
	"github.com/stemsync/stemsync/internal/health"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
)

// Enqueuer is the dispatcher surface the track handlers call.
type Enqueuer interface {
	Add(ctx context.Context, trackID string, user *db.User) (dispatch.Outcome, error)
	Reprocess(ctx context.Context, trackID, fromStage string) (dispatch.Outcome, error)
}

// Source searches the audio catalog and resolves track metadata.
type Source interface {
	Search(ctx context.Context, query string) ([]deezer.SearchResult, error)
	GetInfo(ctx context.Context, trackID string) (*deezer.Info, error)
}

// HealthRunner executes the component probes on demand.
type HealthRunner interface {
	RunAll(ctx context.Context, checkedBy string) []health.Check
}

// Deps carries everything the server needs. Built once in main.
type Deps struct {
	Config     config.Config
	DB         *db.DB
	Store      *store.Store
	Registry   *status.Registry
	Feed       *feed.Feed
	Dispatcher Enqueuer
	Source     Source
	Health     HealthRunner
}

// Server holds the handler dependencies.
type Server struct {
	cfg        config.Config
	db         *db.DB
	store      *store.Store
	registry   *status.Registry
	feed       *feed.Feed
	dispatcher Enqueuer
	source     Source
	health     HealthRunner
	logger     zerolog.Logger
}

func New(deps Deps) (*Server, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("api: nil db")
	case deps.Store == nil:
		return nil, errors.New("api: nil store")
	case deps.Registry == nil:
		return nil, errors.New("api: nil registry")
	case deps.Feed == nil:
		return nil, errors.New("api: nil feed")
	case deps.Dispatcher == nil:
		return nil, errors.New("api: nil dispatcher")
	case deps.Source == nil:
		return nil, errors.New("api: nil source")
	}
	return &Server{
		cfg:        deps.Config,
		db:         deps.DB,
		store:      deps.Store,
		registry:   deps.Registry,
		feed:       deps.Feed,
		dispatcher: deps.Dispatcher,
		source:     deps.Source,
		health:     deps.Health,
		logger:     log.WithComponent("api"),
	}, nil
}

// Router assembles the full route tree with the middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestContext)
	r.Use(s.accessLog)
	r.Use(httpMetrics)
	r.Use(chimw.Recoverer)
	r.Use(rateLimit(s.cfg.Server.RateLimitRPM))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/search", s.handleSearch)
		r.Get("/status", s.handleStatusAll)
		r.Get("/library", s.handleLibrary)
		r.Get("/events", s.handleEvents)
		r.Get("/tracks/random", s.handleRandomTrack)

		r.Route("/tracks/{trackID}", func(r chi.Router) {
			r.Post("/", s.handleAddTrack)
			r.Get("/", s.handleTrackMetadata)
			r.Get("/status", s.handleTrackStatus)
			r.Post("/play", s.handlePlay)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/failures", s.handleFailures)
			r.Get("/errors", s.handleErrors)
			r.Post("/errors/{errorID}/resolve", s.handleResolveError)
			r.Get("/usage", s.handleUsage)
			r.Get("/queue", s.handleQueue)
			r.Get("/unfinished", s.handleUnfinished)
			r.Post("/tracks/{trackID}/reprocess", s.handleReprocess)
			r.Delete("/tracks/{trackID}", s.handleDeleteTrack)
			r.Post("/users", s.handleCreateUser)
			r.Post("/users/{userID}/credits", s.handleGrantCredits)
			r.Get("/health", s.handleHealthList)
			r.Get("/health/history", s.handleHealthHistory)
			r.Post("/health/run", s.handleHealthRun)
			r.Post("/db/verify", s.handleVerifyDB)
		})
	})

	return r
}

// logUsage records a user-visible action. Best effort: a failed write is
// logged and swallowed, the request already succeeded.
func (s *Server) logUsage(r *http.Request, action, detail string) {
	user := userFrom(r.Context())
	if user == nil {
		return
	}
	if err := s.db.InsertUsageLog(r.Context(), user.ID, user.Username, action, detail); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("usage log write failed")
	}
}
