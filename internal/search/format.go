package search

import (
	"strings"

	"github.com/thebtf/mnemo/pkg/models"
)

const titleLen = 100

// SearchResult is one record in a formatted response. In index form only
// the identifying fields are set; full form adds the record and its score.
type SearchResult struct {
	Record    any     `json:"record,omitempty"`
	Kind      string  `json:"kind"`
	Type      string  `json:"type,omitempty"`
	Title     string  `json:"title,omitempty"`
	Project   string  `json:"project"`
	CreatedAt string  `json:"created_at"`
	ID        int64   `json:"id"`
	Epoch     int64   `json:"created_at_epoch"`
	Score     float64 `json:"score,omitempty"`
}

// Response is the formatted form of Results.
type Response struct {
	Source  Source         `json:"source"`
	Format  Format         `json:"format"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total_count"`
}

// Format renders results as index entries or full records.
func (r *Results) Format(format Format) *Response {
	if format != FormatFull {
		format = FormatIndex
	}
	out := make([]SearchResult, 0, r.Total())
	for _, o := range r.Observations {
		out = append(out, observationResult(o.Observation, o.Score, format))
	}
	for _, s := range r.Summaries {
		out = append(out, summaryResult(s.Summary, s.Score, format))
	}
	for _, p := range r.Prompts {
		out = append(out, promptResult(p.Prompt, p.Score, format))
	}
	return &Response{Source: r.Source, Format: format, Results: out, Total: len(out)}
}

func observationResult(obs *models.Observation, score float64, format Format) SearchResult {
	result := SearchResult{
		Kind:      "observation",
		Type:      string(obs.Type),
		ID:        obs.ID,
		Project:   obs.Project,
		CreatedAt: obs.CreatedAt,
		Epoch:     obs.CreatedAtEpoch,
	}
	if obs.Title.Valid {
		result.Title = obs.Title.String
	}
	if format == FormatFull {
		result.Record = obs
		result.Score = score
	}
	return result
}

func summaryResult(summary *models.SessionSummary, score float64, format Format) SearchResult {
	result := SearchResult{
		Kind:      "session",
		ID:        summary.ID,
		Project:   summary.Project,
		CreatedAt: summary.CreatedAt,
		Epoch:     summary.CreatedAtEpoch,
	}
	if summary.Request.Valid {
		result.Title = truncate(summary.Request.String, titleLen)
	}
	if format == FormatFull {
		result.Record = summary
		result.Score = score
	}
	return result
}

func promptResult(prompt *models.UserPromptWithSession, score float64, format Format) SearchResult {
	result := SearchResult{
		Kind:      "prompt",
		ID:        prompt.ID,
		Project:   prompt.Project,
		Title:     truncate(prompt.PromptText, titleLen),
		CreatedAt: prompt.CreatedAt,
		Epoch:     prompt.CreatedAtEpoch,
	}
	if format == FormatFull {
		result.Record = prompt
		result.Score = score
	}
	return result
}

// truncate shortens s to at most maxLen runes plus an ellipsis.
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
