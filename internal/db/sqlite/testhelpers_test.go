package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testStore opens a Store through NewStore, the production path.
func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedSession inserts a session row directly.
func seedSession(t *testing.T, db *sql.DB, claudeID, sdkID, project string) int64 {
	t.Helper()

	now := time.Now()
	var sdk interface{}
	if sdkID != "" {
		sdk = sdkID
	}
	result, err := db.Exec(`
		INSERT INTO sdk_sessions (claude_session_id, sdk_session_id, project, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, ?, ?, 'active')`,
		claudeID, sdk, project, now.Format(time.RFC3339), now.UnixMilli(),
	)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// seedObservation inserts an observation with a fixed epoch.
func seedObservation(t *testing.T, db *sql.DB, sdkID, project, obsType string, epoch int64) int64 {
	t.Helper()

	result, err := db.Exec(`
		INSERT INTO observations (sdk_session_id, project, type, title, facts, concepts, files_read, files_modified,
		                          created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, '[]', '[]', '[]', '[]', ?, ?)`,
		sdkID, project, obsType, "obs", time.UnixMilli(epoch).UTC().Format(time.RFC3339), epoch,
	)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// seedSummary inserts a summary with a fixed epoch.
func seedSummary(t *testing.T, db *sql.DB, sdkID, project string, epoch int64) int64 {
	t.Helper()

	result, err := db.Exec(`
		INSERT INTO session_summaries (sdk_session_id, project, request, files_read, files_edited, created_at, created_at_epoch)
		VALUES (?, ?, 'req', '[]', '[]', ?, ?)`,
		sdkID, project, time.UnixMilli(epoch).UTC().Format(time.RFC3339), epoch,
	)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// seedPrompt inserts a prompt with a fixed epoch.
func seedPrompt(t *testing.T, db *sql.DB, claudeID string, number int, text string, epoch int64) int64 {
	t.Helper()

	result, err := db.Exec(`
		INSERT INTO user_prompts (claude_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)`,
		claudeID, number, text, time.UnixMilli(epoch).UTC().Format(time.RFC3339), epoch,
	)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}
