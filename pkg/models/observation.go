// Package models contains domain models for mnemo.
package models

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
)

// ObservationType is an open tag. The constants below form the recommended
// vocabulary; any other non-empty value is accepted and stored as-is.
type ObservationType string

const (
	ObsTypeDiscovery ObservationType = "discovery"
	ObsTypeDecision  ObservationType = "decision"
	ObsTypeBugfix    ObservationType = "bugfix"
	ObsTypeFeature   ObservationType = "feature"
	ObsTypeRefactor  ObservationType = "refactor"
	ObsTypeChange    ObservationType = "change"
)

// RecommendedObservationTypes lists the built-in vocabulary in display order.
var RecommendedObservationTypes = []ObservationType{
	ObsTypeDiscovery, ObsTypeDecision, ObsTypeBugfix,
	ObsTypeFeature, ObsTypeRefactor, ObsTypeChange,
}

// IsRecommended reports whether t belongs to the built-in vocabulary.
func (t ObservationType) IsRecommended() bool {
	for _, rec := range RecommendedObservationTypes {
		if rec == t {
			return true
		}
	}
	return false
}

// Observation is a single stored memory.
type Observation struct {
	SDKSessionID    string          `db:"sdk_session_id" json:"sdk_session_id"`
	Project         string          `db:"project" json:"project"`
	Type            ObservationType `db:"type" json:"type"`
	CreatedAt       string          `db:"created_at" json:"created_at"`
	Title           sql.NullString  `db:"title" json:"title,omitempty"`
	Subtitle        sql.NullString  `db:"subtitle" json:"subtitle,omitempty"`
	Narrative       sql.NullString  `db:"narrative" json:"narrative,omitempty"`
	Text            sql.NullString  `db:"text" json:"text,omitempty"`
	Facts           JSONStringArray `db:"facts" json:"facts,omitempty"`
	Concepts        JSONStringArray `db:"concepts" json:"concepts,omitempty"`
	FilesRead       JSONStringArray `db:"files_read" json:"files_read,omitempty"`
	FilesModified   JSONStringArray `db:"files_modified" json:"files_modified,omitempty"`
	PromptNumber    sql.NullInt64   `db:"prompt_number" json:"prompt_number,omitempty"`
	ID              int64           `db:"id" json:"id"`
	DiscoveryTokens int64           `db:"discovery_tokens" json:"discovery_tokens"`
	ReadTokens      int64           `db:"read_tokens" json:"read_tokens"`
	CreatedAtEpoch  int64           `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedObservation is the structured form of an observation before storage.
// It is also the payload format of queued observation messages.
type ParsedObservation struct {
	Type          ObservationType `json:"type"`
	Title         string          `json:"title,omitempty"`
	Subtitle      string          `json:"subtitle,omitempty"`
	Narrative     string          `json:"narrative,omitempty"`
	Facts         []string        `json:"facts,omitempty"`
	Concepts      []string        `json:"concepts,omitempty"`
	FilesRead     []string        `json:"files_read,omitempty"`
	FilesModified []string        `json:"files_modified,omitempty"`
}

// NewObservation builds an unsaved Observation from parsed data.
func NewObservation(sdkSessionID, project string, parsed *ParsedObservation, promptNumber int, discoveryTokens int64) *Observation {
	now := time.Now()
	return &Observation{
		SDKSessionID:    sdkSessionID,
		Project:         project,
		Type:            parsed.Type,
		Title:           sql.NullString{String: parsed.Title, Valid: parsed.Title != ""},
		Subtitle:        sql.NullString{String: parsed.Subtitle, Valid: parsed.Subtitle != ""},
		Narrative:       sql.NullString{String: parsed.Narrative, Valid: parsed.Narrative != ""},
		Facts:           parsed.Facts,
		Concepts:        parsed.Concepts,
		FilesRead:       parsed.FilesRead,
		FilesModified:   parsed.FilesModified,
		PromptNumber:    sql.NullInt64{Int64: int64(promptNumber), Valid: promptNumber > 0},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// ObservationJSON is a JSON-friendly representation of Observation.
type ObservationJSON struct {
	SDKSessionID    string          `json:"sdk_session_id"`
	Project         string          `json:"project"`
	Type            ObservationType `json:"type"`
	Title           string          `json:"title,omitempty"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Narrative       string          `json:"narrative,omitempty"`
	CreatedAt       string          `json:"created_at"`
	Facts           []string        `json:"facts"`
	Concepts        []string        `json:"concepts"`
	FilesRead       []string        `json:"files_read"`
	FilesModified   []string        `json:"files_modified"`
	ID              int64           `json:"id"`
	PromptNumber    int64           `json:"prompt_number,omitempty"`
	DiscoveryTokens int64           `json:"discovery_tokens"`
	ReadTokens      int64           `json:"read_tokens"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// MarshalJSON implements json.Marshaler for Observation.
func (o *Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(ObservationJSON{
		ID:              o.ID,
		SDKSessionID:    o.SDKSessionID,
		Project:         o.Project,
		Type:            o.Type,
		Title:           o.Title.String,
		Subtitle:        o.Subtitle.String,
		Narrative:       o.Narrative.String,
		Facts:           nonNil(o.Facts),
		Concepts:        nonNil(o.Concepts),
		FilesRead:       nonNil(o.FilesRead),
		FilesModified:   nonNil(o.FilesModified),
		PromptNumber:    o.PromptNumber.Int64,
		DiscoveryTokens: o.DiscoveryTokens,
		ReadTokens:      o.ReadTokens,
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	})
}

func nonNil(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
