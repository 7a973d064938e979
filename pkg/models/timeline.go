// Package models contains domain models for mnemo.
package models

// TimelineItemKind identifies which stream a timeline item came from.
type TimelineItemKind string

const (
	TimelineObservation TimelineItemKind = "observation"
	TimelineSummary     TimelineItemKind = "summary"
	TimelinePrompt      TimelineItemKind = "prompt"
)

// TimelineItem is one entry of the interleaved timeline. Exactly one of the
// record pointers is set, matching Kind.
type TimelineItem struct {
	Observation *Observation           `json:"observation,omitempty"`
	Summary     *SessionSummary        `json:"summary,omitempty"`
	Prompt      *UserPromptWithSession `json:"prompt,omitempty"`
	Kind        TimelineItemKind       `json:"kind"`
	ID          int64                  `json:"id"`
	Epoch       int64                  `json:"created_at_epoch"`
}

// Timeline is a window of records around an anchor.
// The three streams are each sorted ascending; Items is their merge.
type Timeline struct {
	Observations []*Observation           `json:"observations"`
	Summaries    []*SessionSummary        `json:"summaries"`
	Prompts      []*UserPromptWithSession `json:"prompts"`
	Items        []TimelineItem           `json:"items"`
	StartEpoch   int64                    `json:"start_epoch,omitempty"`
	EndEpoch     int64                    `json:"end_epoch,omitempty"`
}

// IsEmpty reports whether the timeline holds no records at all.
func (t *Timeline) IsEmpty() bool {
	return len(t.Observations) == 0 && len(t.Summaries) == 0 && len(t.Prompts) == 0
}
