package sqlite

import (
	"context"
	"strings"

	"github.com/thebtf/mnemo/pkg/models"
)

// ScoredObservation is an observation search hit.
type ScoredObservation struct {
	Observation *models.Observation `json:"observation"`
	Score       float64             `json:"score"`
}

// ScoredSummary is a summary search hit.
type ScoredSummary struct {
	Summary *models.SessionSummary `json:"summary"`
	Score   float64                `json:"score"`
}

// ScoredPrompt is a prompt search hit.
type ScoredPrompt struct {
	Prompt *models.UserPromptWithSession `json:"prompt"`
	Score  float64                       `json:"score"`
}

// LexicalIndex runs keyword search over the FTS5 mirror tables. The mirrors
// are maintained by triggers; nothing here writes to them.
type LexicalIndex struct {
	store *Store
}

// NewLexicalIndex creates a lexical index reader.
func NewLexicalIndex(store *Store) *LexicalIndex {
	return &LexicalIndex{store: store}
}

// EscapeFTS5 wraps text as a single FTS5 phrase so that none of it is read
// as query syntax.
func EscapeFTS5(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// normalizeRanks maps raw FTS5 ranks (lower is better) onto [0,1] across the
// given page: the best rank scores 1, the worst 0. Scores are only
// comparable within one page of one call.
func normalizeRanks(ranks []float64) []float64 {
	scores := make([]float64, len(ranks))
	if len(ranks) == 0 {
		return scores
	}
	lo, hi := ranks[0], ranks[0]
	for _, r := range ranks[1:] {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	for i, r := range ranks {
		scores[i] = 1 - (r-lo)/span
	}
	return scores
}

func rankOrder(f QueryFilter, ftsTable, alias string) string {
	if f.OrderBy == OrderDateAsc || f.OrderBy == OrderDateDesc {
		return f.dateOrder(alias)
	}
	return " ORDER BY " + ftsTable + ".rank ASC, " + alias + ".id DESC"
}

// SearchObservations matches query against the observation mirror. An empty
// query degrades to a filter-only listing with zero scores.
func (l *LexicalIndex) SearchObservations(ctx context.Context, query string, f QueryFilter) ([]ScoredObservation, error) {
	if strings.TrimSpace(query) == "" {
		observations, err := NewObservationStore(l.store).FilterObservations(ctx, f)
		if err != nil {
			return nil, err
		}
		hits := make([]ScoredObservation, len(observations))
		for i, obs := range observations {
			hits[i] = ScoredObservation{Observation: obs}
		}
		return hits, nil
	}

	c := f.observationClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	sqlQuery := `SELECT ` + observationColumns + `, observations_fts.rank
		FROM observations o
		JOIN observations_fts ON observations_fts.rowid = o.id
		WHERE observations_fts MATCH ?` + c.and() + rankOrder(f, "observations_fts", "o")
	args := append([]interface{}{EscapeFTS5(query)}, c.args...)
	pageSQL, args := f.page(args)

	rows, err := l.store.db.QueryContext(ctx, sqlQuery+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []*models.Observation
	var ranks []float64
	for rows.Next() {
		var rank float64
		obs, err := scanObservation(rankScanner{rows, &rank})
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scores := normalizeRanks(ranks)
	hits := make([]ScoredObservation, len(observations))
	for i, obs := range observations {
		hits[i] = ScoredObservation{Observation: obs, Score: scores[i]}
	}
	return hits, nil
}

// SearchSessions matches query against the summary mirror.
func (l *LexicalIndex) SearchSessions(ctx context.Context, query string, f QueryFilter) ([]ScoredSummary, error) {
	if strings.TrimSpace(query) == "" {
		summaries, err := NewSummaryStore(l.store).FilterSummaries(ctx, f)
		if err != nil {
			return nil, err
		}
		hits := make([]ScoredSummary, len(summaries))
		for i, summary := range summaries {
			hits[i] = ScoredSummary{Summary: summary}
		}
		return hits, nil
	}

	c := f.summaryClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	sqlQuery := `SELECT ` + summaryColumns + `, session_summaries_fts.rank
		FROM session_summaries ss
		JOIN session_summaries_fts ON session_summaries_fts.rowid = ss.id
		WHERE session_summaries_fts MATCH ?` + c.and() + rankOrder(f, "session_summaries_fts", "ss")
	args := append([]interface{}{EscapeFTS5(query)}, c.args...)
	pageSQL, args := f.page(args)

	rows, err := l.store.db.QueryContext(ctx, sqlQuery+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.SessionSummary
	var ranks []float64
	for rows.Next() {
		var rank float64
		summary, err := scanSummary(rankScanner{rows, &rank})
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scores := normalizeRanks(ranks)
	hits := make([]ScoredSummary, len(summaries))
	for i, summary := range summaries {
		hits[i] = ScoredSummary{Summary: summary, Score: scores[i]}
	}
	return hits, nil
}

// SearchPrompts matches query against the prompt mirror.
func (l *LexicalIndex) SearchPrompts(ctx context.Context, query string, f QueryFilter) ([]ScoredPrompt, error) {
	if strings.TrimSpace(query) == "" {
		prompts, err := NewPromptStore(l.store).FilterPrompts(ctx, f)
		if err != nil {
			return nil, err
		}
		hits := make([]ScoredPrompt, len(prompts))
		for i, prompt := range prompts {
			hits[i] = ScoredPrompt{Prompt: prompt}
		}
		return hits, nil
	}

	c := f.promptClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	sqlQuery := `SELECT ` + promptColumns + `, user_prompts_fts.rank` + promptFrom + `
		JOIN user_prompts_fts ON user_prompts_fts.rowid = p.id
		WHERE user_prompts_fts MATCH ?` + c.and() + rankOrder(f, "user_prompts_fts", "p")
	args := append([]interface{}{EscapeFTS5(query)}, c.args...)
	pageSQL, args := f.page(args)

	rows, err := l.store.db.QueryContext(ctx, sqlQuery+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*models.UserPromptWithSession
	var ranks []float64
	for rows.Next() {
		var rank float64
		prompt, err := scanPromptWithSession(rankScanner{rows, &rank})
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, prompt)
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scores := normalizeRanks(ranks)
	hits := make([]ScoredPrompt, len(prompts))
	for i, prompt := range prompts {
		hits[i] = ScoredPrompt{Prompt: prompt, Score: scores[i]}
	}
	return hits, nil
}

// FindByConcept lists observations tagged with concept.
func (l *LexicalIndex) FindByConcept(ctx context.Context, concept string, f QueryFilter) ([]*models.Observation, error) {
	f.Concepts = []string{concept}
	return NewObservationStore(l.store).FilterObservations(ctx, f)
}

// FindByType lists observations whose type is one of types.
func (l *LexicalIndex) FindByType(ctx context.Context, types []string, f QueryFilter) ([]*models.Observation, error) {
	f.Types = types
	return NewObservationStore(l.store).FilterObservations(ctx, f)
}

// FindByFile lists observations and summaries that read or changed a path
// containing file.
func (l *LexicalIndex) FindByFile(ctx context.Context, file string, f QueryFilter) ([]*models.Observation, []*models.SessionSummary, error) {
	f.Files = []string{file}
	observations, err := NewObservationStore(l.store).FilterObservations(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	summaries, err := NewSummaryStore(l.store).FilterSummaries(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return observations, summaries, nil
}

// rankScanner appends the trailing rank column to a record scan.
type rankScanner struct {
	scanner rowScanner
	rank    *float64
}

func (r rankScanner) Scan(dest ...interface{}) error {
	return r.scanner.Scan(append(dest, r.rank)...)
}
