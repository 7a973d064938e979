package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptStore_SaveCreatesSession(t *testing.T) {
	store := testStore(t)
	prompts := NewPromptStore(store)
	ctx := context.Background()

	id, err := prompts.SaveUserPrompt(ctx, "claude-new", 1, "how do migrations work?")
	require.NoError(t, err)

	got, err := prompts.GetPromptByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "claude-new", got.ClaudeSessionID)
	assert.Equal(t, 1, got.PromptNumber)
	assert.Equal(t, "how do migrations work?", got.PromptText)

	sess, err := NewSessionStore(store).FindAnySDKSession(ctx, "claude-new")
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestPromptStore_Numbering(t *testing.T) {
	store := testStore(t)
	prompts := NewPromptStore(store)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	_, err := sessions.CreateSDKSession(ctx, "claude-1", "proj", "", "")
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third"} {
		_, err := prompts.SaveUserPrompt(ctx, "claude-1", 0, text)
		require.NoError(t, err)
	}

	all, err := prompts.GetUserPromptsBySession(ctx, "claude-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, p := range all {
		assert.Equal(t, i+1, p.PromptNumber)
		assert.Equal(t, "proj", p.Project)
	}

	latest, err := prompts.GetLatestUserPrompt(ctx, "claude-1")
	require.NoError(t, err)
	assert.Equal(t, "third", latest.PromptText)

	_, err = prompts.SaveUserPrompt(ctx, "claude-1", 2, "duplicate number")
	assert.ErrorIs(t, err, ErrPromptOutOfOrder, "prompt numbers are unique per session")
}

func TestPromptStore_MixedNumbering(t *testing.T) {
	type step struct {
		number  int
		want    int
		wantErr error
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name:  "explicit then auto continues after explicit",
			steps: []step{{number: 1, want: 1}, {number: 0, want: 2}, {number: 0, want: 3}},
		},
		{
			name:  "gap raises the counter",
			steps: []step{{number: 0, want: 1}, {number: 5, want: 5}, {number: 0, want: 6}},
		},
		{
			name:  "lower explicit number is rejected",
			steps: []step{{number: 5, want: 5}, {number: 3, wantErr: ErrPromptOutOfOrder}, {number: 0, want: 6}},
		},
		{
			name:  "repeated explicit number is rejected",
			steps: []step{{number: 0, want: 1}, {number: 1, wantErr: ErrPromptOutOfOrder}, {number: 2, want: 2}},
		},
		{
			name:  "counter incremented by session init",
			steps: []step{{number: -1, want: 1}, {number: 0, want: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testStore(t)
			prompts := NewPromptStore(store)
			sessions := NewSessionStore(store)
			ctx := context.Background()

			for i, st := range tt.steps {
				number := st.number
				if number < 0 {
					// The session-init path increments first and saves the
					// resulting number explicitly.
					id, err := sessions.CreateSDKSession(ctx, "claude-mix", "proj", "", "")
					require.NoError(t, err)
					number, err = sessions.IncrementPromptCounter(ctx, id)
					require.NoError(t, err)
				}

				id, err := prompts.SaveUserPrompt(ctx, "claude-mix", number, "step")
				if st.wantErr != nil {
					require.ErrorIs(t, err, st.wantErr, "step %d", i)
					continue
				}
				require.NoError(t, err, "step %d", i)
				got, err := prompts.GetPromptByID(ctx, id)
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, st.want, got.PromptNumber, "step %d", i)
			}

			all, err := prompts.GetUserPromptsBySession(ctx, "claude-mix")
			require.NoError(t, err)
			for i := 1; i < len(all); i++ {
				assert.Greater(t, all[i].PromptNumber, all[i-1].PromptNumber)
			}
		})
	}
}

func TestPromptStore_Filters(t *testing.T) {
	store := testStore(t)
	prompts := NewPromptStore(store)
	ctx := context.Background()
	db := store.DB()

	seedSession(t, db, "c1", "", "alpha")
	seedSession(t, db, "c2", "", "beta")
	a := seedPrompt(t, db, "c1", 1, "alpha prompt", 1000)
	b := seedPrompt(t, db, "c2", 1, "beta prompt", 2000)

	got, err := prompts.GetPromptsByIDs(ctx, []int64{a, b}, QueryFilter{Project: "beta"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0].ID)

	got, err = prompts.FilterPrompts(ctx, QueryFilter{OrderBy: OrderDateAsc})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].ID)

	recent, err := prompts.GetRecentUserPromptsByProject(ctx, "alpha", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, a, recent[0].ID)
}
