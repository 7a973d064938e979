package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/mnemo/pkg/models"
)

func TestEscapeFTS5(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "simple", want: `"simple"`},
		{in: "two words", want: `"two words"`},
		{in: `say "hi"`, want: `"say ""hi"""`},
		{in: "a OR b NOT c*", want: `"a OR b NOT c*"`},
		{in: "", want: `""`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeFTS5(tt.in))
		})
	}
}

func TestNormalizeRanks(t *testing.T) {
	tests := []struct {
		name  string
		ranks []float64
		want  []float64
	}{
		{name: "empty", ranks: nil, want: []float64{}},
		{name: "single", ranks: []float64{-3}, want: []float64{1}},
		{name: "ties", ranks: []float64{-2, -2}, want: []float64{1, 1}},
		{name: "spread", ranks: []float64{-4, -3, -2}, want: []float64{1, 0.5, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeRanks(tt.ranks)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-9)
			}
		})
	}
}

type LexicalIndexSuite struct {
	suite.Suite
	store *Store
	index *LexicalIndex
	ctx   context.Context
}

func TestLexicalIndexSuite(t *testing.T) {
	suite.Run(t, new(LexicalIndexSuite))
}

func (s *LexicalIndexSuite) SetupTest() {
	s.store = testStore(s.T())
	s.index = NewLexicalIndex(s.store)
	s.ctx = context.Background()

	obs := NewObservationStore(s.store)
	for _, o := range []struct {
		project string
		parsed  models.ParsedObservation
	}{
		{"alpha", models.ParsedObservation{Type: "bugfix", Title: "Fix off-by-one in pager", Narrative: "pager skipped the last row", Concepts: []string{"pattern"}}},
		{"alpha", models.ParsedObservation{Type: "decision", Title: "Use sqlite for storage", Narrative: "embedded storage keeps deployment simple", Concepts: []string{"trade-off"}}},
		{"beta", models.ParsedObservation{Type: "feature", Title: "Pager component", Narrative: "new pager for the listing view", FilesModified: []string{"ui/pager.go"}}},
	} {
		p := o.parsed
		_, _, err := obs.StoreObservation(s.ctx, "sdk-"+o.project, o.project, &p, 0, 0)
		s.Require().NoError(err)
	}

	_, _, err := NewSummaryStore(s.store).StoreSummary(s.ctx, "sdk-alpha", "alpha",
		&models.ParsedSummary{Request: "Fix pager", Learned: "off-by-one errors hide in loops", FilesEdited: []string{"ui/pager.go"}}, 0, 0)
	s.Require().NoError(err)

	_, err = NewPromptStore(s.store).SaveUserPrompt(s.ctx, "sdk-alpha", 0, "why does the pager drop rows?")
	s.Require().NoError(err)
}

func (s *LexicalIndexSuite) TestSearchObservations() {
	tests := []struct {
		name   string
		query  string
		filter QueryFilter
		want   int
	}{
		{name: "single word", query: "pager", want: 2},
		{name: "phrase", query: "off-by-one", want: 1},
		{name: "project filter", query: "pager", filter: QueryFilter{Project: "beta"}, want: 1},
		{name: "type filter", query: "pager", filter: QueryFilter{Types: []string{"bugfix"}}, want: 1},
		{name: "no match", query: "kubernetes", want: 0},
		{name: "syntax is literal", query: `pager" OR "sqlite`, want: 0},
		{name: "operators are literal", query: "NOT AND (", want: 0},
		{name: "empty query lists by filter", query: "", filter: QueryFilter{Project: "alpha"}, want: 2},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			hits, err := s.index.SearchObservations(s.ctx, tt.query, tt.filter)
			s.Require().NoError(err)
			s.Len(hits, tt.want)
			for _, h := range hits {
				s.GreaterOrEqual(h.Score, 0.0)
				s.LessOrEqual(h.Score, 1.0)
			}
		})
	}
}

func (s *LexicalIndexSuite) TestScoresArePageRelative() {
	hits, err := s.index.SearchObservations(s.ctx, "pager", QueryFilter{})
	s.Require().NoError(err)
	s.Require().Len(hits, 2)
	s.Equal(1.0, hits[0].Score, "best hit on the page scores 1")

	page, err := s.index.SearchObservations(s.ctx, "pager", QueryFilter{Limit: 1, Offset: 1})
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(1.0, page[0].Score, "a one-hit page normalizes to 1")
}

func (s *LexicalIndexSuite) TestSearchSessionsAndPrompts() {
	sums, err := s.index.SearchSessions(s.ctx, "loops", QueryFilter{})
	s.Require().NoError(err)
	s.Require().Len(sums, 1)
	s.Equal("Fix pager", sums[0].Summary.Request.String)

	prompts, err := s.index.SearchPrompts(s.ctx, "pager", QueryFilter{Project: "alpha"})
	s.Require().NoError(err)
	s.Require().Len(prompts, 1)
	s.Equal("alpha", prompts[0].Prompt.Project)
}

func (s *LexicalIndexSuite) TestFindBy() {
	byConcept, err := s.index.FindByConcept(s.ctx, "pattern", QueryFilter{})
	s.Require().NoError(err)
	s.Require().Len(byConcept, 1)
	s.Equal("Fix off-by-one in pager", byConcept[0].Title.String)

	byType, err := s.index.FindByType(s.ctx, []string{"decision", "feature"}, QueryFilter{})
	s.Require().NoError(err)
	s.Len(byType, 2)

	obs, sums, err := s.index.FindByFile(s.ctx, "pager.go", QueryFilter{})
	s.Require().NoError(err)
	s.Len(obs, 1)
	s.Len(sums, 1)
}

func (s *LexicalIndexSuite) TestMirrorFollowsUpdatesAndDeletes() {
	hits, err := s.index.SearchObservations(s.ctx, "sqlite", QueryFilter{})
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	id := hits[0].Observation.ID

	_, err = s.store.DB().Exec(`UPDATE observations SET title = 'Use postgres for storage' WHERE id = ?`, id)
	s.Require().NoError(err)

	hits, err = s.index.SearchObservations(s.ctx, "sqlite", QueryFilter{})
	s.Require().NoError(err)
	s.Empty(hits)
	hits, err = s.index.SearchObservations(s.ctx, "postgres", QueryFilter{})
	s.Require().NoError(err)
	s.Len(hits, 1)

	_, err = NewObservationStore(s.store).DeleteObservations(s.ctx, []int64{id})
	s.Require().NoError(err)
	hits, err = s.index.SearchObservations(s.ctx, "postgres", QueryFilter{})
	s.Require().NoError(err)
	s.Empty(hits)
}
