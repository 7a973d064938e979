// Package search provides hybrid semantic and lexical search for mnemo.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/vector"
	"github.com/thebtf/mnemo/internal/vector/chroma"
	"github.com/thebtf/mnemo/pkg/models"
)

// Results holds one response. Only the streams an operation searches are set.
type Results struct {
	Source       Source                     `json:"source"`
	Observations []sqlite.ScoredObservation `json:"observations,omitempty"`
	Summaries    []sqlite.ScoredSummary     `json:"sessions,omitempty"`
	Prompts      []sqlite.ScoredPrompt      `json:"prompts,omitempty"`
}

// Total returns the number of records across all streams.
func (r *Results) Total() int {
	return len(r.Observations) + len(r.Summaries) + len(r.Prompts)
}

// Manager runs every search in two mutually exclusive paths: the semantic
// backend, hydrated from SQLite, or the lexical index. Any failure or empty
// outcome on the semantic path silently falls through to the lexical one.
type Manager struct {
	vector       vector.Client
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	prompts      *sqlite.PromptStore
	lexical      *sqlite.LexicalIndex
	timeline     *sqlite.TimelineStore
	metrics      *Metrics
	now          func() time.Time
	cfg          Config
}

// NewManager creates a search manager. client may be nil, in which case
// every search takes the lexical path.
func NewManager(store *sqlite.Store, client vector.Client, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = def.RecencyWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ContextSessions <= 0 {
		cfg.ContextSessions = def.ContextSessions
	}
	return &Manager{
		vector:       client,
		observations: sqlite.NewObservationStore(store),
		summaries:    sqlite.NewSummaryStore(store),
		prompts:      sqlite.NewPromptStore(store),
		lexical:      sqlite.NewLexicalIndex(store),
		timeline:     sqlite.NewTimelineStore(store),
		metrics:      NewMetrics(),
		now:          time.Now,
		cfg:          cfg,
	}
}

// Metrics returns the manager's search metrics.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// semanticIDs queries the backend and returns the recovered ids, or nil if
// the semantic path is unavailable or failed.
func (m *Manager) semanticIDs(ctx context.Context, query string, docType chroma.DocType) *chroma.ExtractedIDs {
	if m.vector == nil || strings.TrimSpace(query) == "" || !m.vector.IsConnected() {
		return nil
	}

	results, err := m.vector.Query(ctx, query, m.cfg.BatchSize, chroma.BuildWhereFilter(docType, ""))
	if err != nil {
		log.Warn().Err(err).Str("docType", string(docType)).Msg("Semantic query failed, using lexical index")
		return nil
	}

	cutoff := m.now().Add(-m.cfg.RecencyWindow).UnixMilli()
	recent := chroma.FilterRecent(results, cutoff)
	ids := chroma.ExtractIDsByDocType(recent)

	log.Debug().
		Int("matches", len(results)).
		Int("recent", len(recent)).
		Str("docType", string(docType)).
		Msg("Semantic query returned")
	return ids
}

// SearchObservations runs a text search over observations.
func (m *Manager) SearchObservations(ctx context.Context, p Params) (*Results, error) {
	ctx, done := m.metrics.start(ctx, "observations")
	f := p.Filter(DefaultSearchLimit, sqlite.OrderRelevance)

	if ids := m.semanticIDs(ctx, p.Query, chroma.DocTypeObservation); ids != nil && len(ids.ObservationIDs) > 0 {
		hits, err := hydrate(ctx, ids.ObservationIDs, f, m.observations.GetObservationsByIDs,
			func(o *models.Observation) int64 { return o.ID },
			func(o *models.Observation, score float64) sqlite.ScoredObservation {
				return sqlite.ScoredObservation{Observation: o, Score: score}
			})
		if err != nil {
			log.Warn().Err(err).Msg("Observation hydration failed, using lexical index")
		} else if len(hits) > 0 {
			done(SourceSemantic)
			return &Results{Source: SourceSemantic, Observations: hits}, nil
		}
	}

	hits, err := m.lexical.SearchObservations(ctx, p.Query, f)
	done(SourceLexical)
	if err != nil {
		return nil, err
	}
	return &Results{Source: SourceLexical, Observations: hits}, nil
}

// SearchSessions runs a text search over session summaries.
func (m *Manager) SearchSessions(ctx context.Context, p Params) (*Results, error) {
	ctx, done := m.metrics.start(ctx, "sessions")
	f := p.Filter(DefaultSearchLimit, sqlite.OrderRelevance)

	if ids := m.semanticIDs(ctx, p.Query, chroma.DocTypeSessionSummary); ids != nil && len(ids.SummaryIDs) > 0 {
		hits, err := hydrate(ctx, ids.SummaryIDs, f, m.summaries.GetSummariesByIDs,
			func(s *models.SessionSummary) int64 { return s.ID },
			func(s *models.SessionSummary, score float64) sqlite.ScoredSummary {
				return sqlite.ScoredSummary{Summary: s, Score: score}
			})
		if err != nil {
			log.Warn().Err(err).Msg("Summary hydration failed, using lexical index")
		} else if len(hits) > 0 {
			done(SourceSemantic)
			return &Results{Source: SourceSemantic, Summaries: hits}, nil
		}
	}

	hits, err := m.lexical.SearchSessions(ctx, p.Query, f)
	done(SourceLexical)
	if err != nil {
		return nil, err
	}
	return &Results{Source: SourceLexical, Summaries: hits}, nil
}

// SearchPrompts runs a text search over user prompts.
func (m *Manager) SearchPrompts(ctx context.Context, p Params) (*Results, error) {
	ctx, done := m.metrics.start(ctx, "prompts")
	f := p.Filter(DefaultSearchLimit, sqlite.OrderRelevance)

	if ids := m.semanticIDs(ctx, p.Query, chroma.DocTypeUserPrompt); ids != nil && len(ids.PromptIDs) > 0 {
		hits, err := hydrate(ctx, ids.PromptIDs, f, m.prompts.GetPromptsByIDs,
			func(pr *models.UserPromptWithSession) int64 { return pr.ID },
			func(pr *models.UserPromptWithSession, score float64) sqlite.ScoredPrompt {
				return sqlite.ScoredPrompt{Prompt: pr, Score: score}
			})
		if err != nil {
			log.Warn().Err(err).Msg("Prompt hydration failed, using lexical index")
		} else if len(hits) > 0 {
			done(SourceSemantic)
			return &Results{Source: SourceSemantic, Prompts: hits}, nil
		}
	}

	hits, err := m.lexical.SearchPrompts(ctx, p.Query, f)
	done(SourceLexical)
	if err != nil {
		return nil, err
	}
	return &Results{Source: SourceLexical, Prompts: hits}, nil
}

// hydrate loads semantic hits from the store. Under relevance ordering the
// backend's rank is kept and paging happens in memory; date orderings are
// left to the store.
func hydrate[T any, S any](
	ctx context.Context,
	ids []int64,
	f sqlite.QueryFilter,
	load func(context.Context, []int64, sqlite.QueryFilter) ([]T, error),
	id func(T) int64,
	wrap func(T, float64) S,
) ([]S, error) {
	rank := make(map[int64]int, len(ids))
	for i, v := range ids {
		rank[v] = i
	}

	var records []T
	if f.OrderBy == sqlite.OrderRelevance {
		all := f
		all.Limit, all.Offset = 0, 0
		loaded, err := load(ctx, ids, all)
		if err != nil {
			return nil, err
		}
		records = pageSlice(reorder(loaded, ids, id), f.Offset, f.Limit)
	} else {
		loaded, err := load(ctx, ids, f)
		if err != nil {
			return nil, err
		}
		records = loaded
	}

	hits := make([]S, len(records))
	for i, r := range records {
		hits[i] = wrap(r, rankScore(rank[id(r)], len(ids)))
	}
	return hits, nil
}

// FindByConcept lists observations tagged with concept, ordered by semantic
// relevance to the concept when the backend is available.
func (m *Manager) FindByConcept(ctx context.Context, concept string, p Params) (*Results, error) {
	ctx, done := m.metrics.start(ctx, "by_concept")
	candidates, err := m.lexical.FindByConcept(ctx, concept, p.Filter(DefaultFindLimit, sqlite.OrderDateDesc))
	if err != nil {
		done(SourceLexical)
		return nil, err
	}
	res := m.rerank(ctx, concept, chroma.DocTypeObservation, candidates, nil)
	done(res.Source)
	return res, nil
}

// FindByType lists observations of the given types.
func (m *Manager) FindByType(ctx context.Context, types []string, p Params) (*Results, error) {
	ctx, done := m.metrics.start(ctx, "by_type")
	candidates, err := m.lexical.FindByType(ctx, types, p.Filter(DefaultFindLimit, sqlite.OrderDateDesc))
	if err != nil {
		done(SourceLexical)
		return nil, err
	}
	res := m.rerank(ctx, strings.Join(types, ", "), chroma.DocTypeObservation, candidates, nil)
	done(res.Source)
	return res, nil
}

// FindByFile lists observations and summaries that touched a matching path.
func (m *Manager) FindByFile(ctx context.Context, file string, p Params) (*Results, error) {
	ctx, done := m.metrics.start(ctx, "by_file")
	observations, summaries, err := m.lexical.FindByFile(ctx, file, p.Filter(DefaultFindLimit, sqlite.OrderDateDesc))
	if err != nil {
		done(SourceLexical)
		return nil, err
	}
	res := m.rerank(ctx, file, "", observations, summaries)
	done(res.Source)
	return res, nil
}

// rerank orders store candidates by semantic rank. Candidates the backend
// did not return are dropped; if none survive, the candidates are returned
// unchanged as the lexical result.
func (m *Manager) rerank(ctx context.Context, query string, docType chroma.DocType,
	observations []*models.Observation, summaries []*models.SessionSummary) *Results {
	lexical := &Results{Source: SourceLexical}
	for _, o := range observations {
		lexical.Observations = append(lexical.Observations, sqlite.ScoredObservation{Observation: o})
	}
	for _, s := range summaries {
		lexical.Summaries = append(lexical.Summaries, sqlite.ScoredSummary{Summary: s})
	}
	if len(observations) == 0 && len(summaries) == 0 {
		return lexical
	}

	ids := m.semanticIDs(ctx, query, docType)
	if ids == nil {
		return lexical
	}

	obsIDs := make([]int64, len(observations))
	for i, o := range observations {
		obsIDs[i] = o.ID
	}
	sumIDs := make([]int64, len(summaries))
	for i, s := range summaries {
		sumIDs[i] = s.ID
	}
	rankedObs := IntersectRanked(obsIDs, ids.ObservationIDs)
	rankedSums := IntersectRanked(sumIDs, ids.SummaryIDs)
	if len(rankedObs) == 0 && len(rankedSums) == 0 {
		return lexical
	}

	res := &Results{Source: SourceSemantic}
	for i, o := range reorder(observations, rankedObs, func(o *models.Observation) int64 { return o.ID }) {
		res.Observations = append(res.Observations, sqlite.ScoredObservation{Observation: o, Score: rankScore(i, len(rankedObs))})
	}
	for i, s := range reorder(summaries, rankedSums, func(s *models.SessionSummary) int64 { return s.ID }) {
		res.Summaries = append(res.Summaries, sqlite.ScoredSummary{Summary: s, Score: rankScore(i, len(rankedSums))})
	}
	return res
}
