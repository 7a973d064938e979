package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/thebtf/mnemo/pkg/models"
)

// SummaryStore provides summary-related database operations.
type SummaryStore struct {
	store    *Store
	sessions *SessionStore
}

// NewSummaryStore creates a new summary store.
func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{store: store, sessions: NewSessionStore(store)}
}

// StoreSummary stores a new session summary, creating its session if needed.
// A session may hold any number of summaries.
func (s *SummaryStore) StoreSummary(ctx context.Context, sdkSessionID, project string, summary *models.ParsedSummary, promptNumber int, discoveryTokens int64) (int64, int64, error) {
	if err := s.sessions.EnsureSessionExists(ctx, sdkSessionID, project); err != nil {
		return 0, 0, err
	}

	now := time.Now()
	nowEpoch := now.UnixMilli()

	const query = `
		INSERT INTO session_summaries
		(sdk_session_id, project, request, investigated, learned, completed,
		 next_steps, notes, files_read, files_edited, prompt_number, discovery_tokens,
		 created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.store.ExecContext(ctx, query,
		sdkSessionID, project,
		nullString(summary.Request), nullString(summary.Investigated),
		nullString(summary.Learned), nullString(summary.Completed),
		nullString(summary.NextSteps), nullString(summary.Notes),
		models.JSONStringArray(summary.FilesRead), models.JSONStringArray(summary.FilesEdited),
		nullInt(promptNumber), discoveryTokens,
		now.Format(time.RFC3339), nowEpoch,
	)
	if err != nil {
		return 0, 0, err
	}

	id, err := result.LastInsertId()
	return id, nowEpoch, err
}

// GetSummaryByID retrieves a summary by ID.
func (s *SummaryStore) GetSummaryByID(ctx context.Context, id int64) (*models.SessionSummary, error) {
	const query = `SELECT ` + summaryColumns + ` FROM session_summaries ss WHERE ss.id = ?`

	summary, err := scanSummary(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return summary, err
}

// GetSummaryForSession returns the latest summary of a session.
func (s *SummaryStore) GetSummaryForSession(ctx context.Context, sdkSessionID string) (*models.SessionSummary, error) {
	const query = `SELECT ` + summaryColumns + ` FROM session_summaries ss
		WHERE ss.sdk_session_id = ?
		ORDER BY ss.created_at_epoch DESC, ss.id DESC
		LIMIT 1`

	summary, err := scanSummary(s.store.QueryRowContext(ctx, query, sdkSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return summary, err
}

// GetSummariesByIDs hydrates summaries by id, applying the filter's
// secondary constraints, date ordering and paging.
func (s *SummaryStore) GetSummariesByIDs(ctx context.Context, ids []int64, f QueryFilter) ([]*models.SessionSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	c := f.summaryClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + summaryColumns + ` FROM session_summaries ss
		WHERE ss.id IN (` + placeholders(len(ids)) + `)` + c.and() + f.dateOrder("ss")
	args := append(int64SliceToInterface(ids), c.args...)
	pageSQL, args := f.page(args)

	rows, err := s.store.db.QueryContext(ctx, query+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// FilterSummaries returns summaries matching the filter alone.
func (s *SummaryStore) FilterSummaries(ctx context.Context, f QueryFilter) ([]*models.SessionSummary, error) {
	c := f.summaryClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + summaryColumns + ` FROM session_summaries ss` + c.where() + f.dateOrder("ss")
	pageSQL, args := f.page(c.args)

	rows, err := s.store.db.QueryContext(ctx, query+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// GetRecentSummaries retrieves recent summaries for a project.
func (s *SummaryStore) GetRecentSummaries(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	const query = `SELECT ` + summaryColumns + ` FROM session_summaries ss
		WHERE ss.project = ?
		ORDER BY ss.created_at_epoch DESC, ss.id DESC
		LIMIT ?`

	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}
