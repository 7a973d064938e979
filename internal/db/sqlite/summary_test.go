package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/mnemo/pkg/models"
)

type SummaryStoreSuite struct {
	suite.Suite
	store        *Store
	summaryStore *SummaryStore
	ctx          context.Context
}

func TestSummaryStoreSuite(t *testing.T) {
	suite.Run(t, new(SummaryStoreSuite))
}

func (s *SummaryStoreSuite) SetupTest() {
	s.store = testStore(s.T())
	s.summaryStore = NewSummaryStore(s.store)
	s.ctx = context.Background()
}

func (s *SummaryStoreSuite) TestStoreAndRetrieve() {
	parsed := &models.ParsedSummary{
		Request:     "Fix the flaky test",
		Learned:     "Timeouts were too short",
		NextSteps:   "Raise the timeout",
		FilesRead:   []string{"a_test.go"},
		FilesEdited: []string{"a.go", "b.go"},
	}

	id, epoch, err := s.summaryStore.StoreSummary(s.ctx, "sdk-1", "proj", parsed, 2, 50)
	s.Require().NoError(err)
	s.Greater(id, int64(0))

	got, err := s.summaryStore.GetSummaryByID(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("Fix the flaky test", got.Request.String)
	s.Equal("Timeouts were too short", got.Learned.String)
	s.False(got.Investigated.Valid)
	s.Equal(models.JSONStringArray{"a.go", "b.go"}, got.FilesEdited)
	s.Equal(int64(2), got.PromptNumber.Int64)
	s.Equal(int64(50), got.DiscoveryTokens)
	s.Equal(epoch, got.CreatedAtEpoch)

	missing, err := s.summaryStore.GetSummaryByID(s.ctx, 9999)
	s.NoError(err)
	s.Nil(missing)
}

func (s *SummaryStoreSuite) TestManySummariesPerSession() {
	db := s.store.DB()
	seedSession(s.T(), db, "c1", "sdk-1", "proj")
	older := seedSummary(s.T(), db, "sdk-1", "proj", 1000)
	newer := seedSummary(s.T(), db, "sdk-1", "proj", 2000)

	latest, err := s.summaryStore.GetSummaryForSession(s.ctx, "sdk-1")
	s.Require().NoError(err)
	s.Equal(newer, latest.ID)

	recent, err := s.summaryStore.GetRecentSummaries(s.ctx, "proj", 10)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(newer, recent[0].ID)
	s.Equal(older, recent[1].ID)
}

func (s *SummaryStoreSuite) TestGetSummariesByIDs() {
	db := s.store.DB()
	seedSession(s.T(), db, "c1", "sdk-1", "alpha")
	seedSession(s.T(), db, "c2", "sdk-2", "beta")
	a := seedSummary(s.T(), db, "sdk-1", "alpha", 1000)
	b := seedSummary(s.T(), db, "sdk-2", "beta", 2000)
	_, err := db.Exec(`UPDATE session_summaries SET files_edited = '["cmd/main.go"]' WHERE id = ?`, b)
	s.Require().NoError(err)

	tests := []struct {
		name   string
		filter QueryFilter
		want   []int64
	}{
		{name: "all newest first", filter: QueryFilter{}, want: []int64{b, a}},
		{name: "oldest first", filter: QueryFilter{OrderBy: OrderDateAsc}, want: []int64{a, b}},
		{name: "project", filter: QueryFilter{Project: "alpha"}, want: []int64{a}},
		{name: "edited file", filter: QueryFilter{Files: []string{"main.go"}}, want: []int64{b}},
		{name: "types do not apply", filter: QueryFilter{Types: []string{"bugfix"}}, want: []int64{b, a}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.summaryStore.GetSummariesByIDs(s.ctx, []int64{a, b}, tt.filter)
			s.Require().NoError(err)
			var ids []int64
			for _, sum := range got {
				ids = append(ids, sum.ID)
			}
			s.Equal(tt.want, ids)
		})
	}
}
