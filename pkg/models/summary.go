// Package models contains domain models for mnemo.
package models

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
)

// SessionSummary is a rollup of a session. A session may accumulate several.
type SessionSummary struct {
	CreatedAt       string          `db:"created_at" json:"created_at"`
	SDKSessionID    string          `db:"sdk_session_id" json:"sdk_session_id"`
	Project         string          `db:"project" json:"project"`
	Completed       sql.NullString  `db:"completed" json:"completed,omitempty"`
	Investigated    sql.NullString  `db:"investigated" json:"investigated,omitempty"`
	Learned         sql.NullString  `db:"learned" json:"learned,omitempty"`
	NextSteps       sql.NullString  `db:"next_steps" json:"next_steps,omitempty"`
	Notes           sql.NullString  `db:"notes" json:"notes,omitempty"`
	Request         sql.NullString  `db:"request" json:"request,omitempty"`
	FilesRead       JSONStringArray `db:"files_read" json:"files_read,omitempty"`
	FilesEdited     JSONStringArray `db:"files_edited" json:"files_edited,omitempty"`
	PromptNumber    sql.NullInt64   `db:"prompt_number" json:"prompt_number,omitempty"`
	ID              int64           `db:"id" json:"id"`
	DiscoveryTokens int64           `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAtEpoch  int64           `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedSummary is the structured form of a summary before storage.
// It is also the payload format of queued summarize messages.
type ParsedSummary struct {
	Request      string   `json:"request,omitempty"`
	Investigated string   `json:"investigated,omitempty"`
	Learned      string   `json:"learned,omitempty"`
	Completed    string   `json:"completed,omitempty"`
	NextSteps    string   `json:"next_steps,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	FilesRead    []string `json:"files_read,omitempty"`
	FilesEdited  []string `json:"files_edited,omitempty"`
}

// NewSessionSummary creates a new session summary from parsed data.
func NewSessionSummary(sdkSessionID, project string, parsed *ParsedSummary, promptNumber int, discoveryTokens int64) *SessionSummary {
	now := time.Now()
	return &SessionSummary{
		SDKSessionID:    sdkSessionID,
		Project:         project,
		Request:         sql.NullString{String: parsed.Request, Valid: parsed.Request != ""},
		Investigated:    sql.NullString{String: parsed.Investigated, Valid: parsed.Investigated != ""},
		Learned:         sql.NullString{String: parsed.Learned, Valid: parsed.Learned != ""},
		Completed:       sql.NullString{String: parsed.Completed, Valid: parsed.Completed != ""},
		NextSteps:       sql.NullString{String: parsed.NextSteps, Valid: parsed.NextSteps != ""},
		Notes:           sql.NullString{String: parsed.Notes, Valid: parsed.Notes != ""},
		FilesRead:       parsed.FilesRead,
		FilesEdited:     parsed.FilesEdited,
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// SessionSummaryJSON is a JSON-friendly representation of SessionSummary.
// It converts sql.NullString to plain strings for clean JSON output.
type SessionSummaryJSON struct {
	Completed       string   `json:"completed,omitempty"`
	SDKSessionID    string   `json:"sdk_session_id"`
	Project         string   `json:"project"`
	Request         string   `json:"request,omitempty"`
	Investigated    string   `json:"investigated,omitempty"`
	Learned         string   `json:"learned,omitempty"`
	NextSteps       string   `json:"next_steps,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	CreatedAt       string   `json:"created_at"`
	FilesRead       []string `json:"files_read"`
	FilesEdited     []string `json:"files_edited"`
	ID              int64    `json:"id"`
	PromptNumber    int64    `json:"prompt_number,omitempty"`
	DiscoveryTokens int64    `json:"discovery_tokens"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"`
}

// MarshalJSON implements json.Marshaler for SessionSummary.
func (s *SessionSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(SessionSummaryJSON{
		ID:              s.ID,
		SDKSessionID:    s.SDKSessionID,
		Project:         s.Project,
		Request:         s.Request.String,
		Investigated:    s.Investigated.String,
		Learned:         s.Learned.String,
		Completed:       s.Completed.String,
		NextSteps:       s.NextSteps.String,
		Notes:           s.Notes.String,
		FilesRead:       nonNil(s.FilesRead),
		FilesEdited:     nonNil(s.FilesEdited),
		PromptNumber:    s.PromptNumber.Int64,
		DiscoveryTokens: s.DiscoveryTokens,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	})
}
