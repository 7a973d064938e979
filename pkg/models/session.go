// Package models contains domain models for mnemo.
package models

import (
	"database/sql"

	"github.com/goccy/go-json"
)

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// SDKSession represents an assistant conversation tracked by the memory system.
// ClaudeSessionID is the stable external id. SDKSessionID is assigned at most once.
type SDKSession struct {
	ID               int64          `db:"id" json:"id"`
	ClaudeSessionID  string         `db:"claude_session_id" json:"claude_session_id"`
	SDKSessionID     sql.NullString `db:"sdk_session_id" json:"sdk_session_id,omitempty"`
	Project          string         `db:"project" json:"project"`
	UserPrompt       sql.NullString `db:"user_prompt" json:"user_prompt,omitempty"`
	WorkerPort       sql.NullInt64  `db:"worker_port" json:"worker_port,omitempty"`
	PromptCounter    int64          `db:"prompt_counter" json:"prompt_counter"`
	Status           SessionStatus  `db:"status" json:"status"`
	Metadata         sql.NullString `db:"metadata" json:"metadata,omitempty"`
	StartedAt        string         `db:"started_at" json:"started_at"`
	StartedAtEpoch   int64          `db:"started_at_epoch" json:"started_at_epoch"`
	CompletedAt      sql.NullString `db:"completed_at" json:"completed_at,omitempty"`
	CompletedAtEpoch sql.NullInt64  `db:"completed_at_epoch" json:"completed_at_epoch,omitempty"`
}

// SessionMetadata is the open metadata blob stored with a session.
type SessionMetadata struct {
	Mode string `json:"mode,omitempty"`
}

// EncodeSessionMetadata returns the stored form of the metadata, or an invalid
// NullString when there is nothing worth storing.
func EncodeSessionMetadata(meta SessionMetadata) sql.NullString {
	if meta == (SessionMetadata{}) {
		return sql.NullString{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

// ParsedMetadata decodes the session metadata blob. Malformed blobs yield the zero value.
func (s *SDKSession) ParsedMetadata() SessionMetadata {
	var meta SessionMetadata
	if !s.Metadata.Valid || s.Metadata.String == "" {
		return meta
	}
	_ = json.Unmarshal([]byte(s.Metadata.String), &meta)
	return meta
}

// SessionJSON is a JSON-friendly representation of SDKSession.
type SessionJSON struct {
	ClaudeSessionID  string        `json:"claude_session_id"`
	SDKSessionID     string        `json:"sdk_session_id,omitempty"`
	Project          string        `json:"project"`
	UserPrompt       string        `json:"user_prompt,omitempty"`
	Status           SessionStatus `json:"status"`
	Mode             string        `json:"mode,omitempty"`
	StartedAt        string        `json:"started_at"`
	CompletedAt      string        `json:"completed_at,omitempty"`
	ID               int64         `json:"id"`
	WorkerPort       int64         `json:"worker_port,omitempty"`
	PromptCounter    int64         `json:"prompt_counter"`
	StartedAtEpoch   int64         `json:"started_at_epoch"`
	CompletedAtEpoch int64         `json:"completed_at_epoch,omitempty"`
}

// MarshalJSON implements json.Marshaler for SDKSession.
func (s *SDKSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(SessionJSON{
		ID:               s.ID,
		ClaudeSessionID:  s.ClaudeSessionID,
		SDKSessionID:     s.SDKSessionID.String,
		Project:          s.Project,
		UserPrompt:       s.UserPrompt.String,
		WorkerPort:       s.WorkerPort.Int64,
		PromptCounter:    s.PromptCounter,
		Status:           s.Status,
		Mode:             s.ParsedMetadata().Mode,
		StartedAt:        s.StartedAt,
		StartedAtEpoch:   s.StartedAtEpoch,
		CompletedAt:      s.CompletedAt.String,
		CompletedAtEpoch: s.CompletedAtEpoch.Int64,
	})
}
