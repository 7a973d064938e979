package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreSuite exercises the Store wrapper over a migrated database.
type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = testStore(s.T())
}

func (s *StoreSuite) TestGetStmtCaches() {
	const query = "SELECT COUNT(*) FROM observations WHERE project = ?"

	first, err := s.store.GetStmt(query)
	s.Require().NoError(err)
	second, err := s.store.GetStmt(query)
	s.Require().NoError(err)
	s.Same(first, second)

	_, err = s.store.GetStmt("SELECT * FROM no_such_table")
	s.Error(err)
	s.store.stmtMu.RLock()
	s.Len(s.store.stmts, 1, "failed preparations are not cached")
	s.store.stmtMu.RUnlock()
}

func (s *StoreSuite) TestStatementsAgainstSchema() {
	id := seedSession(s.T(), s.store.DB(), "claude-1", "sdk-1", "alpha")
	seedObservation(s.T(), s.store.DB(), "sdk-1", "alpha", "bugfix", 1_000)
	seedObservation(s.T(), s.store.DB(), "sdk-1", "alpha", "feature", 2_000)

	tests := []struct {
		name  string
		query string
		args  []interface{}
		want  int64
	}{
		{name: "by project", query: "SELECT COUNT(*) FROM observations WHERE project = ?", args: []interface{}{"alpha"}, want: 2},
		{name: "by type", query: "SELECT COUNT(*) FROM observations WHERE type = ?", args: []interface{}{"feature"}, want: 1},
		{name: "unknown project", query: "SELECT COUNT(*) FROM observations WHERE project = ?", args: []interface{}{"beta"}, want: 0},
		{name: "session by claude id", query: "SELECT id FROM sdk_sessions WHERE claude_session_id = ?", args: []interface{}{"claude-1"}, want: id},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			var got int64
			s.Require().NoError(s.store.QueryRowContext(s.ctx, tt.query, tt.args...).Scan(&got))
			s.Equal(tt.want, got)
		})
	}

	s.Run("query rows", func() {
		rows, err := s.store.QueryContext(s.ctx, "SELECT type FROM observations ORDER BY created_at_epoch")
		s.Require().NoError(err)
		defer rows.Close()
		var types []string
		for rows.Next() {
			var t string
			s.Require().NoError(rows.Scan(&t))
			types = append(types, t)
		}
		s.Require().NoError(rows.Err())
		s.Equal([]string{"bugfix", "feature"}, types)
	})

	s.Run("exec affected rows", func() {
		res, err := s.store.ExecContext(s.ctx, "UPDATE observations SET title = ? WHERE project = ?", "renamed", "alpha")
		s.Require().NoError(err)
		n, err := res.RowsAffected()
		s.Require().NoError(err)
		s.EqualValues(2, n)
	})

	s.Run("row prepare error surfaces from scan", func() {
		var v int
		err := s.store.QueryRowContext(s.ctx, "SELECT missing FROM nowhere").Scan(&v)
		s.Error(err)
	})

	s.Run("no rows", func() {
		var v int64
		err := s.store.QueryRowContext(s.ctx, "SELECT id FROM sdk_sessions WHERE claude_session_id = ?", "nope").Scan(&v)
		s.ErrorIs(err, sql.ErrNoRows)
	})
}

func (s *StoreSuite) TestForeignKeysCascade() {
	seedSession(s.T(), s.store.DB(), "claude-1", "sdk-1", "alpha")
	seedObservation(s.T(), s.store.DB(), "sdk-1", "alpha", "bugfix", 1_000)
	seedSummary(s.T(), s.store.DB(), "sdk-1", "alpha", 1_000)
	seedPrompt(s.T(), s.store.DB(), "claude-1", 1, "hello", 1_000)

	_, err := s.store.ExecContext(s.ctx, "DELETE FROM sdk_sessions WHERE claude_session_id = ?", "claude-1")
	s.Require().NoError(err)

	for _, table := range []string{"observations", "session_summaries", "user_prompts"} {
		var n int
		s.Require().NoError(s.store.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n))
		s.Zero(n, table)
	}

	_, err = s.store.ExecContext(s.ctx, `INSERT INTO observations
		(sdk_session_id, project, type, facts, concepts, files_read, files_modified, created_at, created_at_epoch)
		VALUES ('ghost', 'alpha', 'bugfix', '[]', '[]', '[]', '[]', '', 1)`)
	s.Error(err, "orphan rows are rejected")
}

func (s *StoreSuite) TestConcurrentStmtCache() {
	queries := []string{
		"SELECT COUNT(*) FROM observations",
		"SELECT COUNT(*) FROM session_summaries",
		"SELECT COUNT(*) FROM user_prompts",
		"SELECT COUNT(*) FROM pending_messages",
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var n int
			_ = s.store.QueryRowContext(s.ctx, queries[i%len(queries)]).Scan(&n)
		}(i)
	}
	wg.Wait()

	s.store.stmtMu.RLock()
	defer s.store.stmtMu.RUnlock()
	s.Len(s.store.stmts, len(queries))
}

func (s *StoreSuite) TestClose() {
	store := testStore(s.T())
	_, err := store.GetStmt("SELECT 1")
	s.Require().NoError(err)

	s.Require().NoError(store.Close())
	s.Empty(store.stmts)
	s.Error(store.Ping())
}

func TestNewStore(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := NewStore(StoreConfig{})
		require.Error(t, err)
	})

	t.Run("wal mode", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "wal.db"), WALMode: true})
		require.NoError(t, err)
		defer store.Close()

		var mode string
		require.NoError(t, store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
		assert.Equal(t, 1, store.DB().Stats().MaxOpenConnections)
	})

	t.Run("migrated and reopenable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")

		store, err := NewStore(StoreConfig{Path: path, WALMode: true})
		require.NoError(t, err)
		require.NoError(t, store.Ping())
		require.NoError(t, store.Close())

		store, err = NewStore(StoreConfig{Path: path, MaxConns: 2})
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, 2, store.DB().Stats().MaxOpenConnections)

		versions, err := NewSchemaManager(store.DB()).AppliedVersions(context.Background())
		require.NoError(t, err)
		require.Equal(t, []int{4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 16, 20, 21}, versions)
	})
}

func TestHelpers(t *testing.T) {
	t.Run("nullString", func(t *testing.T) {
		assert.False(t, nullString("").Valid)
		assert.Equal(t, sql.NullString{String: " ", Valid: true}, nullString(" "))
	})

	t.Run("nullInt", func(t *testing.T) {
		assert.False(t, nullInt(0).Valid)
		assert.False(t, nullInt(-1).Valid)
		assert.Equal(t, sql.NullInt64{Int64: 7, Valid: true}, nullInt(7))
	})

	t.Run("placeholders", func(t *testing.T) {
		assert.Equal(t, "", placeholders(0))
		assert.Equal(t, "?", placeholders(1))
		assert.Equal(t, "?, ?, ?", placeholders(3))
	})

	t.Run("slices to args", func(t *testing.T) {
		assert.Equal(t, []interface{}{int64(1), int64(2)}, int64SliceToInterface([]int64{1, 2}))
		assert.Equal(t, []interface{}{"a", "b"}, stringSliceToInterface([]string{"a", "b"}))
		assert.Empty(t, int64SliceToInterface(nil))
	})
}
