package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/thebtf/mnemo/pkg/models"
)

// TokenCounter estimates the token count of a text.
type TokenCounter func(text string) int

// ObservationStore provides observation-related database operations.
type ObservationStore struct {
	store        *Store
	sessions     *SessionStore
	tokenCounter TokenCounter
}

// NewObservationStore creates a new observation store.
func NewObservationStore(store *Store) *ObservationStore {
	return &ObservationStore{store: store, sessions: NewSessionStore(store)}
}

// SetTokenCounter sets the estimator used to fill read_tokens.
func (s *ObservationStore) SetTokenCounter(fn TokenCounter) {
	s.tokenCounter = fn
}

// StoreObservation stores a new observation, creating its session if needed.
// Returns the new id and its creation epoch.
func (s *ObservationStore) StoreObservation(ctx context.Context, sdkSessionID, project string, obs *models.ParsedObservation, promptNumber int, discoveryTokens int64) (int64, int64, error) {
	if err := s.sessions.EnsureSessionExists(ctx, sdkSessionID, project); err != nil {
		return 0, 0, err
	}

	now := time.Now()
	nowEpoch := now.UnixMilli()

	var readTokens int64
	if s.tokenCounter != nil {
		readTokens = int64(s.tokenCounter(observationText(obs)))
	}

	const query = `
		INSERT INTO observations
		(sdk_session_id, project, type, title, subtitle, facts, narrative, concepts,
		 files_read, files_modified, prompt_number, discovery_tokens, read_tokens,
		 created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.store.ExecContext(ctx, query,
		sdkSessionID, project, string(obs.Type),
		nullString(obs.Title), nullString(obs.Subtitle),
		models.JSONStringArray(obs.Facts), nullString(obs.Narrative), models.JSONStringArray(obs.Concepts),
		models.JSONStringArray(obs.FilesRead), models.JSONStringArray(obs.FilesModified),
		nullInt(promptNumber), discoveryTokens, readTokens,
		now.Format(time.RFC3339), nowEpoch,
	)
	if err != nil {
		return 0, 0, err
	}

	id, err := result.LastInsertId()
	return id, nowEpoch, err
}

func observationText(obs *models.ParsedObservation) string {
	parts := []string{obs.Title, obs.Subtitle, obs.Narrative}
	parts = append(parts, obs.Facts...)
	return strings.Join(parts, "\n")
}

// GetObservationByID retrieves an observation by ID.
func (s *ObservationStore) GetObservationByID(ctx context.Context, id int64) (*models.Observation, error) {
	const query = `SELECT ` + observationColumns + ` FROM observations o WHERE o.id = ?`

	obs, err := scanObservation(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return obs, err
}

// GetObservationsByIDs hydrates observations by id, applying the filter's
// secondary constraints, date ordering and paging.
func (s *ObservationStore) GetObservationsByIDs(ctx context.Context, ids []int64, f QueryFilter) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	c := f.observationClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + observationColumns + ` FROM observations o
		WHERE o.id IN (` + placeholders(len(ids)) + `)` + c.and() + f.dateOrder("o")
	args := append(int64SliceToInterface(ids), c.args...)
	pageSQL, args := f.page(args)

	rows, err := s.store.db.QueryContext(ctx, query+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// FilterObservations returns observations matching the filter alone.
func (s *ObservationStore) FilterObservations(ctx context.Context, f QueryFilter) ([]*models.Observation, error) {
	c := f.observationClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + observationColumns + ` FROM observations o` + c.where() + f.dateOrder("o")
	pageSQL, args := f.page(c.args)

	rows, err := s.store.db.QueryContext(ctx, query+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetObservationsForSession returns a session's observations, oldest first.
func (s *ObservationStore) GetObservationsForSession(ctx context.Context, sdkSessionID string) ([]*models.Observation, error) {
	const query = `SELECT ` + observationColumns + ` FROM observations o
		WHERE o.sdk_session_id = ?
		ORDER BY o.created_at_epoch ASC, o.id ASC`

	rows, err := s.store.QueryContext(ctx, query, sdkSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetRecentObservations retrieves recent observations for a project.
func (s *ObservationStore) GetRecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	const query = `SELECT ` + observationColumns + ` FROM observations o
		WHERE o.project = ?
		ORDER BY o.created_at_epoch DESC, o.id DESC
		LIMIT ?`

	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetObservationCount returns the count of observations for a project.
// An empty project counts all observations.
func (s *ObservationStore) GetObservationCount(ctx context.Context, project string) (int, error) {
	const query = `SELECT COUNT(*) FROM observations WHERE (? = '' OR project = ?)`
	var count int
	err := s.store.QueryRowContext(ctx, query, project, project).Scan(&count)
	return count, err
}

// DeleteObservations deletes multiple observations by ID.
func (s *ObservationStore) DeleteObservations(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM observations WHERE id IN (` + placeholders(len(ids)) + `)` // #nosec G202 -- uses parameterized placeholders

	result, err := s.store.db.ExecContext(ctx, query, int64SliceToInterface(ids)...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
