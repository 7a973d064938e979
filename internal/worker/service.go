package worker

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/mnemo/internal/config"
	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/search"
	"github.com/thebtf/mnemo/internal/tokens"
	"github.com/thebtf/mnemo/internal/vector"
	"github.com/thebtf/mnemo/internal/vector/chroma"
	"github.com/thebtf/mnemo/internal/vocabulary"
	"github.com/thebtf/mnemo/internal/worker/sse"
)

// Options wires a Service to its dependencies.
type Options struct {
	Config     *config.Config
	Store      *sqlite.Store
	Vector     vector.Client // nil disables the semantic path
	Vocabulary *vocabulary.Holder
	Version    string
}

// Service is the worker: HTTP API, queue processor and the stores behind them.
type Service struct {
	startTime        time.Time
	config           *config.Config
	store            *sqlite.Store
	sessionStore     *sqlite.SessionStore
	observationStore *sqlite.ObservationStore
	summaryStore     *sqlite.SummaryStore
	promptStore      *sqlite.PromptStore
	pendingStore     *sqlite.PendingStore
	search           *search.Manager
	ingest           *Ingestor
	processor        *Processor
	vocab            *vocabulary.Holder
	sseBroadcaster   *sse.Broadcaster
	router           chi.Router
	version          string
	ready            atomic.Bool
}

// NewService builds a service over an open store. The service starts not
// ready; call SetReady once startup work is done.
func NewService(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Service{
		version:          opts.Version,
		config:           cfg,
		store:            opts.Store,
		sessionStore:     sqlite.NewSessionStore(opts.Store),
		observationStore: sqlite.NewObservationStore(opts.Store),
		summaryStore:     sqlite.NewSummaryStore(opts.Store),
		promptStore:      sqlite.NewPromptStore(opts.Store),
		pendingStore:     sqlite.NewPendingStore(opts.Store, cfg.QueueMaxRetries),
		vocab:            opts.Vocabulary,
		sseBroadcaster:   sse.NewBroadcaster(),
		router:           chi.NewRouter(),
		startTime:        time.Now(),
	}
	s.observationStore.SetTokenCounter(tokens.Count)

	var sync *chroma.Sync
	if opts.Vector != nil {
		sync = chroma.NewSync(opts.Vector)
	}
	s.sessionStore.SetCleanupFunc(func(ctx context.Context, deleted sqlite.DeletedRecords) {
		if sync != nil {
			if err := sync.DeleteRecords(ctx, deleted.ObservationIDs, deleted.SummaryIDs, deleted.PromptIDs); err != nil {
				log.Warn().Err(err).Msg("Failed to remove deleted session from semantic backend")
			}
		}
	})

	s.search = search.NewManager(opts.Store, opts.Vector, search.Config{
		RecencyWindow:      cfg.RecencyWindow(),
		BatchSize:          cfg.SemanticBatchSize,
		ContextSessions:    cfg.ContextSessionCount,
		ContextTokenBudget: cfg.ContextTokenBudget,
		DuplicateThreshold: cfg.ContextDedupeThreshold,
	})
	s.ingest = &Ingestor{
		observations: s.observationStore,
		summaries:    s.summaryStore,
		prompts:      s.promptStore,
		sync:         sync,
		vocab:        s.vocab,
		events:       s.sseBroadcaster,
	}
	s.processor = NewProcessor(s.sessionStore, s.pendingStore, s.ingest, DefaultPollInterval, cfg.StaleThreshold())

	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Processor returns the queue processor; the caller runs it.
func (s *Service) Processor() *Processor {
	return s.processor
}

// Search returns the search manager.
func (s *Service) Search() *search.Manager {
	return s.search
}

// CleanupOrphans marks sessions left active for longer than olderThan as
// failed. Run at startup, before the service is ready.
func (s *Service) CleanupOrphans(ctx context.Context, olderThan time.Duration) error {
	n, err := s.sessionStore.CleanupOrphanedSessions(ctx, olderThan)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("sessions", n).Msg("Marked orphaned sessions failed")
	}
	return nil
}

// SetReady toggles whether API routes accept requests.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/version", s.handleVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/sessions/init", s.handleSessionInit)
		r.Post("/api/sessions/{id}/sdk-id", s.handleSessionSDKID)
		r.Post("/api/sessions/{id}/complete", s.handleSessionComplete)
		r.Post("/api/sessions/{id}/fail", s.handleSessionFail)
		r.Get("/api/sessions", s.handleListSessions)
		// {id} is the claude session id on these two
		r.Get("/api/sessions/{id}", s.handleSessionDetail)
		r.Delete("/api/sessions/{id}", s.handleSessionDelete)

		r.Post("/api/observations", s.handleStoreObservation)
		r.Post("/api/summaries", s.handleStoreSummary)
		r.Post("/api/prompts", s.handleSavePrompt)
		r.Post("/api/queue", s.handleEnqueue)

		r.Get("/api/search/observations", s.handleSearchObservations)
		r.Get("/api/search/sessions", s.handleSearchSessions)
		r.Get("/api/search/prompts", s.handleSearchPrompts)
		r.Get("/api/search/by-concept", s.handleFindByConcept)
		r.Get("/api/search/by-file", s.handleFindByFile)
		r.Get("/api/search/by-type", s.handleFindByType)

		r.Get("/api/context/recent", s.handleRecentContext)
		r.Get("/api/timeline", s.handleTimeline)
		r.Get("/api/timeline/by-query", s.handleTimelineByQuery)

		r.Get("/api/stats", s.handleStats)
		r.Get("/api/vocabulary", s.handleVocabulary)
		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
	})
}

// requireReady rejects requests until the service is ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
