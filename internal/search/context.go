package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/tokens"
	"github.com/thebtf/mnemo/pkg/models"
	"github.com/thebtf/mnemo/pkg/similarity"
)

// Timeline depths used when a caller passes none.
const (
	DefaultDepthBefore = 10
	DefaultDepthAfter  = 10
	interactiveLimit   = 5
)

// TimelineMode selects how timeline-by-query treats its hits.
type TimelineMode string

const (
	ModeAuto        TimelineMode = "auto"
	ModeInteractive TimelineMode = "interactive"
)

// ErrInvalidMode is returned for an unknown timeline-by-query mode.
var ErrInvalidMode = errors.New("invalid timeline mode")

// ContextObservation is an observation with its read-cost estimate.
type ContextObservation struct {
	Observation *models.Observation `json:"observation"`
	Tokens      int                 `json:"tokens"`
}

// RecentContext is what a new session is primed with.
type RecentContext struct {
	Project      string                   `json:"project"`
	Summaries    []*models.SessionSummary `json:"sessions"`
	Observations []ContextObservation     `json:"observations"`
	TotalTokens  int                      `json:"total_tokens"`
	Truncated    bool                     `json:"truncated,omitempty"`
}

// RecentContext returns the latest summaries and up to limit observations
// for a project, newest first. Near-duplicate observations are collapsed
// into the newest one, and observations stop being added once the
// configured token budget is spent.
func (m *Manager) RecentContext(ctx context.Context, project string, limit int) (*RecentContext, error) {
	if limit <= 0 {
		limit = DefaultFindLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	summaries, err := m.summaries.GetRecentSummaries(ctx, project, m.cfg.ContextSessions)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	observations, err := m.observations.GetRecentObservations(ctx, project, limit)
	if err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}

	out := &RecentContext{
		Project:      project,
		Summaries:    summaries,
		Observations: make([]ContextObservation, 0, len(observations)),
	}
	if m.cfg.DuplicateThreshold > 0 {
		observations = dropNearDuplicates(observations, m.cfg.DuplicateThreshold)
	}
	budget := tokens.Budget{Limit: m.cfg.ContextTokenBudget}
	for _, obs := range observations {
		n := int(obs.ReadTokens)
		if n == 0 {
			n = tokens.Count(observationText(obs))
		}
		if !budget.Take(n) {
			out.Truncated = true
			break
		}
		out.Observations = append(out.Observations, ContextObservation{Observation: obs, Tokens: n})
	}
	out.TotalTokens = budget.Used
	return out, nil
}

// dropNearDuplicates keeps the newest of each group of near-identical
// observations; observations arrive newest first.
func dropNearDuplicates(observations []*models.Observation, threshold float64) []*models.Observation {
	sets := make([]similarity.TermSet, len(observations))
	for i, obs := range observations {
		texts := append([]string{obs.Title.String, obs.Narrative.String}, obs.Facts...)
		files := append(append([]string(nil), obs.FilesRead...), obs.FilesModified...)
		sets[i] = similarity.Terms(texts, files)
	}
	keep := similarity.Dedupe(sets, threshold)
	if len(keep) == len(observations) {
		return observations
	}
	out := make([]*models.Observation, len(keep))
	for i, k := range keep {
		out[i] = observations[k]
	}
	return out
}

func observationText(obs *models.Observation) string {
	parts := make([]string, 0, 3+len(obs.Facts))
	for _, s := range []string{obs.Title.String, obs.Subtitle.String, obs.Narrative.String} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, obs.Facts...)
	return strings.Join(parts, "\n")
}

// Timeline returns the window around an anchor given as an observation id,
// "S<id>" for a summary, "T<epoch ms>" or a timestamp.
func (m *Manager) Timeline(ctx context.Context, anchor string, before, after int, project string) (*models.Timeline, error) {
	a, err := sqlite.ParseAnchor(anchor)
	if err != nil {
		return nil, err
	}
	return m.timeline.GetTimeline(ctx, a, before, after, project)
}

// QueryTimeline is the result of a timeline-by-query call.
type QueryTimeline struct {
	Timeline   *models.Timeline `json:"timeline,omitempty"`
	Anchor     *SearchResult    `json:"anchor,omitempty"`
	Mode       TimelineMode     `json:"mode"`
	Source     Source           `json:"source"`
	Candidates []SearchResult   `json:"candidates,omitempty"`
}

// TimelineByQuery searches observations for query. In auto mode the best
// hit becomes the anchor of a timeline; in interactive mode the top hits
// are returned as anchor candidates. No hits is an empty result.
func (m *Manager) TimelineByQuery(ctx context.Context, mode TimelineMode, p Params, before, after int) (*QueryTimeline, error) {
	if mode == "" {
		mode = ModeAuto
	}
	switch mode {
	case ModeAuto:
		p.Limit, p.Offset = 1, 0
	case ModeInteractive:
		if p.Limit <= 0 {
			p.Limit = interactiveLimit
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	p.OrderBy = sqlite.OrderRelevance

	res, err := m.SearchObservations(ctx, p)
	if err != nil {
		return nil, err
	}
	out := &QueryTimeline{Mode: mode, Source: res.Source}

	if mode == ModeInteractive {
		out.Candidates = res.Format(FormatIndex).Results
		return out, nil
	}

	if len(res.Observations) == 0 {
		out.Timeline = &models.Timeline{}
		return out, nil
	}
	top := res.Observations[0]
	anchor := observationResult(top.Observation, top.Score, FormatIndex)
	out.Anchor = &anchor

	out.Timeline, err = m.timeline.GetTimeline(ctx,
		sqlite.Anchor{Kind: sqlite.AnchorObservation, ID: top.Observation.ID}, before, after, p.Project)
	if err != nil {
		return nil, err
	}
	return out, nil
}
