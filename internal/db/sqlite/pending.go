package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/thebtf/mnemo/pkg/models"
)

// DefaultMaxRetries is how many times a failed message returns to pending
// before it is parked as failed.
const DefaultMaxRetries = 3

const pendingColumns = `id, session_db_id, claude_session_id, message_type, payload, prompt_number,
	status, retry_count, created_at_epoch, started_processing_at_epoch, completed_at_epoch, failed_at_epoch`

// PendingStore is the durable work queue.
type PendingStore struct {
	store      *Store
	maxRetries int
}

// NewPendingStore creates a queue store. maxRetries <= 0 uses DefaultMaxRetries.
func NewPendingStore(store *Store, maxRetries int) *PendingStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PendingStore{store: store, maxRetries: maxRetries}
}

// Enqueue persists a message for later processing.
func (s *PendingStore) Enqueue(ctx context.Context, sessionDBID int64, claudeSessionID string, msgType models.MessageType, payload string, promptNumber int) (int64, error) {
	const query = `
		INSERT INTO pending_messages
		(session_db_id, claude_session_id, message_type, payload, prompt_number, status, retry_count, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?)
	`
	result, err := s.store.ExecContext(ctx, query,
		sessionDBID, claudeSessionID, string(msgType), nullString(payload), nullInt(promptNumber),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ClaimNext moves the oldest pending message of a session to processing and
// returns it, or nil when there is none. The transition is a conditional
// update, so two consumers never claim the same message.
func (s *PendingStore) ClaimNext(ctx context.Context, sessionDBID int64) (*models.PendingMessage, error) {
	const selectQuery = `
		SELECT id FROM pending_messages
		WHERE session_db_id = ? AND status = 'pending'
		ORDER BY id ASC
		LIMIT 1
	`
	const claimQuery = `
		UPDATE pending_messages
		SET status = 'processing', started_processing_at_epoch = ?
		WHERE id = ? AND status = 'pending'
	`

	for {
		var id int64
		err := s.store.QueryRowContext(ctx, selectQuery, sessionDBID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		result, err := s.store.ExecContext(ctx, claimQuery, time.Now().UnixMilli(), id)
		if err != nil {
			return nil, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return s.GetMessage(ctx, id)
		}
		// Lost the race for this row; look for the next one.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// GetMessage returns a queued message by id.
func (s *PendingStore) GetMessage(ctx context.Context, id int64) (*models.PendingMessage, error) {
	const query = `SELECT ` + pendingColumns + ` FROM pending_messages WHERE id = ?`
	msg, err := scanPending(s.store.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// ConfirmProcessed removes a successfully processed message.
func (s *PendingStore) ConfirmProcessed(ctx context.Context, id int64) error {
	const query = `DELETE FROM pending_messages WHERE id = ?`
	_, err := s.store.ExecContext(ctx, query, id)
	return err
}

// MarkFailed returns a message to pending with its retry count bumped, or
// parks it as failed once the retries are used up. It reports whether the
// message will be retried.
func (s *PendingStore) MarkFailed(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE pending_messages
		SET status = CASE WHEN retry_count < ? THEN 'pending' ELSE 'failed' END,
		    retry_count = CASE WHEN retry_count < ? THEN retry_count + 1 ELSE retry_count END,
		    started_processing_at_epoch = NULL,
		    failed_at_epoch = CASE WHEN retry_count < ? THEN failed_at_epoch ELSE ? END
		WHERE id = ?
	`
	if _, err := s.store.ExecContext(ctx, query,
		s.maxRetries, s.maxRetries, s.maxRetries, time.Now().UnixMilli(), id,
	); err != nil {
		return false, err
	}

	msg, err := s.GetMessage(ctx, id)
	if err != nil || msg == nil {
		return false, err
	}
	return msg.Status == models.PendingStatusPending, nil
}

// ResetStaleProcessing returns messages stuck in processing for longer than
// threshold to pending. Returns the number of messages reset.
func (s *PendingStore) ResetStaleProcessing(ctx context.Context, threshold time.Duration) (int64, error) {
	const query = `
		UPDATE pending_messages
		SET status = 'pending', started_processing_at_epoch = NULL
		WHERE status = 'processing' AND started_processing_at_epoch < ?
	`
	result, err := s.store.ExecContext(ctx, query, time.Now().Add(-threshold).UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetPendingCount counts pending and processing messages of a session.
func (s *PendingStore) GetPendingCount(ctx context.Context, sessionDBID int64) (int, error) {
	const query = `
		SELECT COUNT(*) FROM pending_messages
		WHERE session_db_id = ? AND status IN ('pending', 'processing')
	`
	var count int
	err := s.store.QueryRowContext(ctx, query, sessionDBID).Scan(&count)
	return count, err
}

// HasAnyPendingWork reports whether any message awaits processing.
func (s *PendingStore) HasAnyPendingWork(ctx context.Context) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM pending_messages WHERE status IN ('pending', 'processing'))
	`
	var exists bool
	err := s.store.QueryRowContext(ctx, query).Scan(&exists)
	return exists, err
}

// GetSessionsWithPendingMessages lists sessions that have pending messages.
func (s *PendingStore) GetSessionsWithPendingMessages(ctx context.Context) ([]int64, error) {
	const query = `
		SELECT DISTINCT session_db_id FROM pending_messages
		WHERE status = 'pending'
		ORDER BY session_db_id ASC
	`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ClearFailed deletes all failed messages.
func (s *PendingStore) ClearFailed(ctx context.Context) (int64, error) {
	const query = `DELETE FROM pending_messages WHERE status = 'failed'`
	result, err := s.store.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByStatus returns the number of queued messages per status.
func (s *PendingStore) CountByStatus(ctx context.Context) (map[models.PendingStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM pending_messages GROUP BY status`
	rows, err := s.store.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.PendingStatus]int)
	for rows.Next() {
		var status models.PendingStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanPending(scanner rowScanner) (*models.PendingMessage, error) {
	var msg models.PendingMessage
	if err := scanner.Scan(
		&msg.ID, &msg.SessionDBID, &msg.ClaudeSessionID, &msg.MessageType, &msg.Payload, &msg.PromptNumber,
		&msg.Status, &msg.RetryCount, &msg.CreatedAtEpoch,
		&msg.StartedProcessingAtEpoch, &msg.CompletedAtEpoch, &msg.FailedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
