// Package models contains domain models for mnemo.
package models

import "database/sql"

// MessageType is the kind of work a pending message carries.
type MessageType string

const (
	MessageTypeObservation MessageType = "observation"
	MessageTypeSummarize   MessageType = "summarize"
)

// PendingStatus is the processing state of a queued message.
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusProcessed  PendingStatus = "processed"
	PendingStatusFailed     PendingStatus = "failed"
)

// PendingMessage is a durable work-queue row. It exists so that a crash
// between receiving an event and storing its result can be recovered.
type PendingMessage struct {
	ClaudeSessionID          string         `db:"claude_session_id" json:"claude_session_id"`
	MessageType              MessageType    `db:"message_type" json:"message_type"`
	Status                   PendingStatus  `db:"status" json:"status"`
	Payload                  sql.NullString `db:"payload" json:"payload,omitempty"`
	PromptNumber             sql.NullInt64  `db:"prompt_number" json:"prompt_number,omitempty"`
	StartedProcessingAtEpoch sql.NullInt64  `db:"started_processing_at_epoch" json:"started_processing_at_epoch,omitempty"`
	CompletedAtEpoch         sql.NullInt64  `db:"completed_at_epoch" json:"completed_at_epoch,omitempty"`
	FailedAtEpoch            sql.NullInt64  `db:"failed_at_epoch" json:"failed_at_epoch,omitempty"`
	ID                       int64          `db:"id" json:"id"`
	SessionDBID              int64          `db:"session_db_id" json:"session_db_id"`
	RetryCount               int            `db:"retry_count" json:"retry_count"`
	CreatedAtEpoch           int64          `db:"created_at_epoch" json:"created_at_epoch"`
}
