package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thebtf/mnemo/pkg/models"
)

// PromptStore provides user prompt-related database operations.
type PromptStore struct {
	store    *Store
	sessions *SessionStore
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store, sessions: NewSessionStore(store)}
}

// ErrPromptOutOfOrder is returned when an explicit prompt number does not
// follow the highest number already stored for the session.
var ErrPromptOutOfOrder = errors.New("prompt number out of order")

// SaveUserPrompt saves a prompt under its session's external id, creating the
// session if this is the first thing seen for it. A promptNumber <= 0 takes
// the next value of the session's prompt counter. An explicit number must be
// above every stored number and raises the counter to at least itself.
func (s *PromptStore) SaveUserPrompt(ctx context.Context, claudeSessionID string, promptNumber int, promptText string) (id int64, err error) {
	sessionID, err := s.sessions.CreateSDKSession(ctx, claudeSessionID, "", "", "")
	if err != nil {
		return 0, err
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if promptNumber <= 0 {
		const bump = `UPDATE sdk_sessions SET prompt_counter = COALESCE(prompt_counter, 0) + 1 WHERE id = ?`
		if _, err = tx.ExecContext(ctx, bump, sessionID); err != nil {
			return 0, err
		}
		const counter = `SELECT prompt_counter FROM sdk_sessions WHERE id = ?`
		if err = tx.QueryRowContext(ctx, counter, sessionID).Scan(&promptNumber); err != nil {
			return 0, err
		}
	} else {
		var highest int
		const maxQuery = `SELECT COALESCE(MAX(prompt_number), 0) FROM user_prompts WHERE claude_session_id = ?`
		if err = tx.QueryRowContext(ctx, maxQuery, claudeSessionID).Scan(&highest); err != nil {
			return 0, err
		}
		if promptNumber <= highest {
			return 0, fmt.Errorf("%w: %d after %d", ErrPromptOutOfOrder, promptNumber, highest)
		}
		const raise = `UPDATE sdk_sessions SET prompt_counter = MAX(COALESCE(prompt_counter, 0), ?) WHERE id = ?`
		if _, err = tx.ExecContext(ctx, raise, promptNumber, sessionID); err != nil {
			return 0, err
		}
	}

	now := time.Now()
	const query = `
		INSERT INTO user_prompts
		(claude_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		claudeSessionID, promptNumber, promptText,
		now.Format(time.RFC3339), now.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	if id, err = result.LastInsertId(); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// GetPromptByID retrieves a prompt with its session context.
func (s *PromptStore) GetPromptByID(ctx context.Context, id int64) (*models.UserPromptWithSession, error) {
	const query = `SELECT ` + promptColumns + promptFrom + ` WHERE p.id = ?`

	prompt, err := scanPromptWithSession(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return prompt, err
}

// GetPromptsByIDs hydrates prompts by id, applying the filter's secondary
// constraints, date ordering and paging.
func (s *PromptStore) GetPromptsByIDs(ctx context.Context, ids []int64, f QueryFilter) ([]*models.UserPromptWithSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	c := f.promptClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + promptColumns + promptFrom + `
		WHERE p.id IN (` + placeholders(len(ids)) + `)` + c.and() + f.dateOrder("p")
	args := append(int64SliceToInterface(ids), c.args...)
	pageSQL, args := f.page(args)

	rows, err := s.store.db.QueryContext(ctx, query+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}

// FilterPrompts returns prompts matching the filter alone.
func (s *PromptStore) FilterPrompts(ctx context.Context, f QueryFilter) ([]*models.UserPromptWithSession, error) {
	c := f.promptClauses()
	// #nosec G202 -- query uses parameterized placeholders, not user input
	query := `SELECT ` + promptColumns + promptFrom + c.where() + f.dateOrder("p")
	pageSQL, args := f.page(c.args)

	rows, err := s.store.db.QueryContext(ctx, query+pageSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}

// GetUserPromptsBySession returns a session's prompts in prompt-number order.
func (s *PromptStore) GetUserPromptsBySession(ctx context.Context, claudeSessionID string) ([]*models.UserPromptWithSession, error) {
	const query = `SELECT ` + promptColumns + promptFrom + `
		WHERE p.claude_session_id = ?
		ORDER BY p.prompt_number ASC`

	rows, err := s.store.QueryContext(ctx, query, claudeSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}

// GetLatestUserPrompt returns the highest-numbered prompt of a session.
func (s *PromptStore) GetLatestUserPrompt(ctx context.Context, claudeSessionID string) (*models.UserPromptWithSession, error) {
	const query = `SELECT ` + promptColumns + promptFrom + `
		WHERE p.claude_session_id = ?
		ORDER BY p.prompt_number DESC
		LIMIT 1`

	prompt, err := scanPromptWithSession(s.store.QueryRowContext(ctx, query, claudeSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return prompt, err
}

// GetRecentUserPromptsByProject retrieves recent prompts for a project.
func (s *PromptStore) GetRecentUserPromptsByProject(ctx context.Context, project string, limit int) ([]*models.UserPromptWithSession, error) {
	const query = `SELECT ` + promptColumns + promptFrom + `
		WHERE s.project = ?
		ORDER BY p.created_at_epoch DESC, p.id DESC
		LIMIT ?`

	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPromptWithSessionRows(rows)
}
