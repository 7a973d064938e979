package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/mnemo/pkg/models"
)

// ErrSessionNotFound is returned when a session mutation targets no row.
var ErrSessionNotFound = errors.New("session not found")

// DeletedRecords lists the rows removed by a session delete.
type DeletedRecords struct {
	ObservationIDs []int64
	SummaryIDs     []int64
	PromptIDs      []int64
}

// CleanupFunc is called after rows are deleted so downstream indexes
// (e.g., the vector collection) can drop their copies.
type CleanupFunc func(ctx context.Context, deleted DeletedRecords)

// SessionStore provides session-related database operations.
type SessionStore struct {
	store       *Store
	cleanupFunc CleanupFunc
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// SetCleanupFunc sets the callback run after DeleteSession.
func (s *SessionStore) SetCleanupFunc(fn CleanupFunc) {
	s.cleanupFunc = fn
}

// CreateSDKSession creates the session row for an external conversation id,
// or returns the existing one. Every caller converges on one row per id.
// On an existing row, non-empty project, prompt and mode fill in the stored
// values; empty ones leave them untouched.
func (s *SessionStore) CreateSDKSession(ctx context.Context, claudeSessionID, project, userPrompt, mode string) (int64, error) {
	now := time.Now()
	metadata := models.EncodeSessionMetadata(models.SessionMetadata{Mode: mode})

	const query = `
		INSERT OR IGNORE INTO sdk_sessions
		(claude_session_id, project, user_prompt, metadata, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, ?, ?, ?, 'active')
	`
	result, err := s.store.ExecContext(ctx, query,
		claudeSessionID, project, nullString(userPrompt), metadata,
		now.Format(time.RFC3339), now.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rowsAffected == 1 {
		return result.LastInsertId()
	}

	if project != "" || userPrompt != "" || metadata.Valid {
		const updateQuery = `
			UPDATE sdk_sessions
			SET project = COALESCE(NULLIF(?, ''), project),
			    user_prompt = COALESCE(NULLIF(?, ''), user_prompt),
			    metadata = COALESCE(?, metadata)
			WHERE claude_session_id = ?
		`
		if _, err := s.store.ExecContext(ctx, updateQuery, project, userPrompt, metadata, claudeSessionID); err != nil {
			return 0, err
		}
	}

	var id int64
	const selectQuery = `SELECT id FROM sdk_sessions WHERE claude_session_id = ? LIMIT 1`
	err = s.store.QueryRowContext(ctx, selectQuery, claudeSessionID).Scan(&id)
	return id, err
}

// UpdateSDKSessionID assigns the SDK id of a session. The id is write-once:
// it returns false if the session already had one.
func (s *SessionStore) UpdateSDKSessionID(ctx context.Context, id int64, sdkSessionID string) (bool, error) {
	const query = `
		UPDATE sdk_sessions
		SET sdk_session_id = ?
		WHERE id = ? AND sdk_session_id IS NULL
	`
	result, err := s.store.ExecContext(ctx, query, sdkSessionID, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		log.Debug().Int64("sessionId", id).Msg("SDK session id already assigned, keeping existing value")
	}
	return n > 0, nil
}

// EnsureSessionExists makes sure a session owns sdkSessionID before a write
// that references it. A session created by CreateSDKSession under the same
// external id gets the id bound to it; otherwise a minimal active session is
// synthesized with both identities equal to sdkSessionID.
func (s *SessionStore) EnsureSessionExists(ctx context.Context, sdkSessionID, project string) error {
	const checkQuery = `SELECT id FROM sdk_sessions WHERE sdk_session_id = ? LIMIT 1`
	var id int64
	err := s.store.QueryRowContext(ctx, checkQuery, sdkSessionID).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	const bindQuery = `
		UPDATE sdk_sessions
		SET sdk_session_id = ?
		WHERE claude_session_id = ? AND sdk_session_id IS NULL
	`
	result, err := s.store.ExecContext(ctx, bindQuery, sdkSessionID, sdkSessionID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	now := time.Now()
	const insertQuery = `
		INSERT OR IGNORE INTO sdk_sessions
		(claude_session_id, sdk_session_id, project, started_at, started_at_epoch, status)
		VALUES (?, ?, ?, ?, ?, 'active')
	`
	_, err = s.store.ExecContext(ctx, insertQuery,
		sdkSessionID, sdkSessionID, project,
		now.Format(time.RFC3339), now.UnixMilli(),
	)
	if err == nil {
		log.Debug().Str("sdkSessionId", sdkSessionID).Str("project", project).Msg("Auto-created session for write")
	}
	return err
}

// GetSessionByID retrieves a session by its database ID.
func (s *SessionStore) GetSessionByID(ctx context.Context, id int64) (*models.SDKSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sdk_sessions WHERE id = ? LIMIT 1`
	sess, err := scanSession(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// FindAnySDKSession finds a session by Claude session ID (any status).
func (s *SessionStore) FindAnySDKSession(ctx context.Context, claudeSessionID string) (*models.SDKSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sdk_sessions WHERE claude_session_id = ? LIMIT 1`
	sess, err := scanSession(s.store.QueryRowContext(ctx, query, claudeSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// FindActiveSDKSession finds an active session by Claude session ID.
func (s *SessionStore) FindActiveSDKSession(ctx context.Context, claudeSessionID string) (*models.SDKSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sdk_sessions WHERE claude_session_id = ? AND status = 'active' LIMIT 1`
	sess, err := scanSession(s.store.QueryRowContext(ctx, query, claudeSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// GetSessionBySDKID finds a session by its SDK id.
func (s *SessionStore) GetSessionBySDKID(ctx context.Context, sdkSessionID string) (*models.SDKSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sdk_sessions WHERE sdk_session_id = ? LIMIT 1`
	sess, err := scanSession(s.store.QueryRowContext(ctx, query, sdkSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// SetWorkerPort records the worker port serving a session.
func (s *SessionStore) SetWorkerPort(ctx context.Context, id int64, port int) error {
	const query = `UPDATE sdk_sessions SET worker_port = ? WHERE id = ?`
	return s.execOne(ctx, query, port, id)
}

// GetWorkerPort returns the worker port of a session, or 0 when unset.
func (s *SessionStore) GetWorkerPort(ctx context.Context, id int64) (int, error) {
	const query = `SELECT COALESCE(worker_port, 0) FROM sdk_sessions WHERE id = ?`
	var port int
	err := s.store.QueryRowContext(ctx, query, id).Scan(&port)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	return port, err
}

// MarkSessionCompleted transitions a session to completed.
func (s *SessionStore) MarkSessionCompleted(ctx context.Context, id int64) error {
	return s.finish(ctx, id, models.SessionStatusCompleted)
}

// MarkSessionFailed transitions a session to failed.
func (s *SessionStore) MarkSessionFailed(ctx context.Context, id int64) error {
	return s.finish(ctx, id, models.SessionStatusFailed)
}

func (s *SessionStore) finish(ctx context.Context, id int64, status models.SessionStatus) error {
	now := time.Now()
	const query = `
		UPDATE sdk_sessions
		SET status = ?, completed_at = ?, completed_at_epoch = ?
		WHERE id = ?
	`
	return s.execOne(ctx, query, string(status), now.Format(time.RFC3339), now.UnixMilli(), id)
}

// ReactivateSession puts a finished session back to active, optionally
// replacing its initiating prompt.
func (s *SessionStore) ReactivateSession(ctx context.Context, id int64, userPrompt string) error {
	const query = `
		UPDATE sdk_sessions
		SET status = 'active', completed_at = NULL, completed_at_epoch = NULL,
		    user_prompt = COALESCE(NULLIF(?, ''), user_prompt)
		WHERE id = ?
	`
	return s.execOne(ctx, query, userPrompt, id)
}

func (s *SessionStore) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.store.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// IncrementPromptCounter increments the prompt counter and returns the new value.
func (s *SessionStore) IncrementPromptCounter(ctx context.Context, id int64) (int, error) {
	const updateQuery = `
		UPDATE sdk_sessions
		SET prompt_counter = COALESCE(prompt_counter, 0) + 1
		WHERE id = ?
	`
	if err := s.execOne(ctx, updateQuery, id); err != nil {
		return 0, err
	}

	const selectQuery = `SELECT prompt_counter FROM sdk_sessions WHERE id = ?`
	var counter int
	err := s.store.QueryRowContext(ctx, selectQuery, id).Scan(&counter)
	return counter, err
}

// GetPromptCounter returns the current prompt counter for a session.
func (s *SessionStore) GetPromptCounter(ctx context.Context, id int64) (int, error) {
	const query = `SELECT COALESCE(prompt_counter, 0) FROM sdk_sessions WHERE id = ?`
	var counter int
	err := s.store.QueryRowContext(ctx, query, id).Scan(&counter)
	return counter, err
}

// DeleteSession removes a session by external id. Observations, summaries,
// prompts and queued messages go with it through cascading foreign keys.
func (s *SessionStore) DeleteSession(ctx context.Context, claudeSessionID string) error {
	sess, err := s.FindAnySDKSession(ctx, claudeSessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	deleted, err := s.collectOwned(ctx, sess)
	if err != nil {
		return err
	}

	const query = `DELETE FROM sdk_sessions WHERE id = ?`
	if err := s.execOne(ctx, query, sess.ID); err != nil {
		return err
	}

	log.Info().
		Str("claudeSessionId", claudeSessionID).
		Int("observations", len(deleted.ObservationIDs)).
		Int("summaries", len(deleted.SummaryIDs)).
		Int("prompts", len(deleted.PromptIDs)).
		Msg("Deleted session")

	if s.cleanupFunc != nil {
		s.cleanupFunc(ctx, deleted)
	}
	return nil
}

func (s *SessionStore) collectOwned(ctx context.Context, sess *models.SDKSession) (DeletedRecords, error) {
	var deleted DeletedRecords
	var err error

	if sess.SDKSessionID.Valid {
		deleted.ObservationIDs, err = s.queryIDs(ctx, `SELECT id FROM observations WHERE sdk_session_id = ?`, sess.SDKSessionID.String)
		if err != nil {
			return deleted, err
		}
		deleted.SummaryIDs, err = s.queryIDs(ctx, `SELECT id FROM session_summaries WHERE sdk_session_id = ?`, sess.SDKSessionID.String)
		if err != nil {
			return deleted, err
		}
	}
	deleted.PromptIDs, err = s.queryIDs(ctx, `SELECT id FROM user_prompts WHERE claude_session_id = ?`, sess.ClaudeSessionID)
	return deleted, err
}

func (s *SessionStore) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// CleanupOrphanedSessions marks active sessions that started before the
// cutoff as failed. Returns the number of sessions changed.
func (s *SessionStore) CleanupOrphanedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-olderThan).UnixMilli()
	const query = `
		UPDATE sdk_sessions
		SET status = 'failed', completed_at = ?, completed_at_epoch = ?
		WHERE status = 'active' AND started_at_epoch < ?
	`
	result, err := s.store.ExecContext(ctx, query, now.Format(time.RFC3339), now.UnixMilli(), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetRecentSessionsWithStatus lists the most recently started sessions of a
// project, newest first. An empty project lists all projects.
func (s *SessionStore) GetRecentSessionsWithStatus(ctx context.Context, project string, limit int) ([]*models.SDKSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sdk_sessions
		WHERE (? = '' OR project = ?)
		ORDER BY started_at_epoch DESC, id DESC
		LIMIT ?
	`
	rows, err := s.store.QueryContext(ctx, query, project, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

// GetSessionsToday returns the count of sessions started today.
func (s *SessionStore) GetSessionsToday(ctx context.Context) (int, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	const query = `SELECT COUNT(*) FROM sdk_sessions WHERE started_at_epoch >= ?`
	var count int
	err := s.store.QueryRowContext(ctx, query, startOfDay.UnixMilli()).Scan(&count)
	return count, err
}

// GetAllProjects returns all unique project names.
func (s *SessionStore) GetAllProjects(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT project
		FROM sdk_sessions
		WHERE project IS NOT NULL AND project != ''
		ORDER BY project ASC
	`

	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}
