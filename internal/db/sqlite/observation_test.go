package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/mnemo/pkg/models"
)

func testObservationStore(t *testing.T) (*ObservationStore, *Store) {
	t.Helper()

	store := testStore(t)
	return NewObservationStore(store), store
}

func TestObservationStore_StoreAndRetrieve(t *testing.T) {
	obsStore, _ := testObservationStore(t)
	ctx := context.Background()

	obs := &models.ParsedObservation{
		Type:          models.ObsTypeDiscovery,
		Title:         "Test Observation",
		Subtitle:      "A subtitle",
		Narrative:     "This is a test observation about testing",
		Facts:         []string{"Fact 2", "Fact 1"},
		Concepts:      []string{"testing", "golang"},
		FilesRead:     []string{"test.go"},
		FilesModified: []string{},
	}

	id, epoch, err := obsStore.StoreObservation(ctx, "session-1", "project-a", obs, 1, 100)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Greater(t, epoch, int64(0))

	retrieved, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, id, retrieved.ID)
	assert.Equal(t, "session-1", retrieved.SDKSessionID)
	assert.Equal(t, "project-a", retrieved.Project)
	assert.Equal(t, models.ObsTypeDiscovery, retrieved.Type)
	assert.Equal(t, "Test Observation", retrieved.Title.String)
	assert.Equal(t, "A subtitle", retrieved.Subtitle.String)
	assert.Equal(t, "This is a test observation about testing", retrieved.Narrative.String)
	assert.Equal(t, models.JSONStringArray{"Fact 2", "Fact 1"}, retrieved.Facts, "order is preserved")
	assert.ElementsMatch(t, []string{"golang", "testing"}, retrieved.Concepts)
	assert.Equal(t, models.JSONStringArray{"test.go"}, retrieved.FilesRead)
	assert.Empty(t, retrieved.FilesModified)
	assert.Equal(t, int64(1), retrieved.PromptNumber.Int64)
	assert.Equal(t, int64(100), retrieved.DiscoveryTokens)
	assert.Equal(t, epoch, retrieved.CreatedAtEpoch)
}

func TestObservationStore_OpenType(t *testing.T) {
	obsStore, _ := testObservationStore(t)
	ctx := context.Background()

	id, _, err := obsStore.StoreObservation(ctx, "s", "p", &models.ParsedObservation{Type: "workflow-gate", Title: "custom"}, 0, 0)
	require.NoError(t, err)

	obs, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ObservationType("workflow-gate"), obs.Type)
	assert.False(t, obs.Type.IsRecommended())
	assert.False(t, obs.PromptNumber.Valid)
}

func TestObservationStore_ReadTokens(t *testing.T) {
	obsStore, _ := testObservationStore(t)
	ctx := context.Background()
	obsStore.SetTokenCounter(func(text string) int { return len(text) })

	parsed := &models.ParsedObservation{Type: models.ObsTypeFeature, Title: "abc", Narrative: "de"}
	id, _, err := obsStore.StoreObservation(ctx, "s", "p", parsed, 0, 0)
	require.NoError(t, err)

	obs, err := obsStore.GetObservationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(len(observationText(parsed))), obs.ReadTokens)
}

func TestObservationStore_GetByID_NotFound(t *testing.T) {
	obsStore, _ := testObservationStore(t)

	obs, err := obsStore.GetObservationByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestObservationStore_GetObservationsByIDs(t *testing.T) {
	obsStore, store := testObservationStore(t)
	ctx := context.Background()
	db := store.DB()

	seedSession(t, db, "c1", "s1", "alpha")
	seedSession(t, db, "c2", "s2", "beta")

	a := seedObservation(t, db, "s1", "alpha", "bugfix", 1000)
	b := seedObservation(t, db, "s1", "alpha", "feature", 2000)
	c := seedObservation(t, db, "s2", "beta", "bugfix", 3000)
	_, err := db.Exec(`UPDATE observations SET concepts = '["pattern","gotcha"]', files_modified = '["internal/db/store.go"]' WHERE id = ?`, b)
	require.NoError(t, err)

	ids := []int64{a, b, c}

	tests := []struct {
		name   string
		filter QueryFilter
		want   []int64
	}{
		{name: "date desc by default", filter: QueryFilter{}, want: []int64{c, b, a}},
		{name: "date asc", filter: QueryFilter{OrderBy: OrderDateAsc}, want: []int64{a, b, c}},
		{name: "limit", filter: QueryFilter{Limit: 2}, want: []int64{c, b}},
		{name: "offset", filter: QueryFilter{Limit: 2, Offset: 1}, want: []int64{b, a}},
		{name: "project", filter: QueryFilter{Project: "alpha"}, want: []int64{b, a}},
		{name: "single type", filter: QueryFilter{Types: []string{"bugfix"}}, want: []int64{c, a}},
		{name: "type list", filter: QueryFilter{Types: []string{"bugfix", "feature"}}, want: []int64{c, b, a}},
		{name: "concept", filter: QueryFilter{Concepts: []string{"gotcha"}}, want: []int64{b}},
		{name: "concept is exact", filter: QueryFilter{Concepts: []string{"got"}}, want: nil},
		{name: "file substring", filter: QueryFilter{Files: []string{"db/store"}}, want: []int64{b}},
		{name: "date range", filter: QueryFilter{DateStart: 1500, DateEnd: 2500}, want: []int64{b}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := obsStore.GetObservationsByIDs(ctx, ids, tt.filter)
			require.NoError(t, err)
			var gotIDs []int64
			for _, o := range got {
				gotIDs = append(gotIDs, o.ID)
			}
			assert.Equal(t, tt.want, gotIDs)
		})
	}

	got, err := obsStore.GetObservationsByIDs(ctx, nil, QueryFilter{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestObservationStore_RecentAndSession(t *testing.T) {
	obsStore, store := testObservationStore(t)
	ctx := context.Background()
	db := store.DB()

	seedSession(t, db, "c1", "s1", "alpha")
	first := seedObservation(t, db, "s1", "alpha", "bugfix", 1000)
	second := seedObservation(t, db, "s1", "alpha", "bugfix", 2000)

	recent, err := obsStore.GetRecentObservations(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second, recent[0].ID)

	forSession, err := obsStore.GetObservationsForSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, forSession, 2)
	assert.Equal(t, first, forSession[0].ID)

	count, err := obsStore.GetObservationCount(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	deleted, err := obsStore.DeleteObservations(ctx, []int64{first})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err = obsStore.GetObservationCount(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
