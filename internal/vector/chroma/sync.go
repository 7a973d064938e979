package chroma

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/mnemo/internal/vector"
	"github.com/thebtf/mnemo/pkg/models"
)

// maxFactsPerObs bounds the fact document ids generated on delete, since the
// number of facts an observation had is not known at that point.
const maxFactsPerObs = 20

var summaryFields = []string{"request", "investigated", "learned", "completed", "next_steps", "notes"}

// Sync writes SQLite records into the semantic backend.
type Sync struct {
	client vector.Client
}

// NewSync creates a new ChromaDB sync service.
func NewSync(client vector.Client) *Sync {
	return &Sync{client: client}
}

// SyncObservation syncs a single observation to ChromaDB.
func (s *Sync) SyncObservation(ctx context.Context, obs *models.Observation) error {
	docs := s.formatObservationDocs(obs)
	if len(docs) == 0 {
		return nil
	}

	if err := s.client.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("add observation docs: %w", err)
	}

	log.Debug().
		Int64("observationId", obs.ID).
		Int("docCount", len(docs)).
		Msg("Synced observation to ChromaDB")

	return nil
}

// formatObservationDocs splits an observation into one document for the
// narrative and one per fact.
func (s *Sync) formatObservationDocs(obs *models.Observation) []vector.Document {
	docs := make([]vector.Document, 0, len(obs.Facts)+1)

	baseMetadata := map[string]any{
		"sqlite_id":        obs.ID,
		"doc_type":         string(DocTypeObservation),
		"sdk_session_id":   obs.SDKSessionID,
		"project":          obs.Project,
		"created_at_epoch": obs.CreatedAtEpoch,
		"type":             string(obs.Type),
	}

	if obs.Title.Valid {
		baseMetadata["title"] = obs.Title.String
	}
	if obs.Subtitle.Valid {
		baseMetadata["subtitle"] = obs.Subtitle.String
	}
	if len(obs.Concepts) > 0 {
		baseMetadata["concepts"] = strings.Join(obs.Concepts, ",")
	}
	if len(obs.FilesRead) > 0 {
		baseMetadata["files_read"] = strings.Join(obs.FilesRead, ",")
	}
	if len(obs.FilesModified) > 0 {
		baseMetadata["files_modified"] = strings.Join(obs.FilesModified, ",")
	}

	if obs.Narrative.Valid && obs.Narrative.String != "" {
		docs = append(docs, vector.Document{
			ID:       fmt.Sprintf("obs_%d_narrative", obs.ID),
			Content:  obs.Narrative.String,
			Metadata: withMetadata(baseMetadata, map[string]any{"field_type": "narrative"}),
		})
	}

	for i, fact := range obs.Facts {
		if i >= maxFactsPerObs {
			break
		}
		docs = append(docs, vector.Document{
			ID:      fmt.Sprintf("obs_%d_fact_%d", obs.ID, i),
			Content: fact,
			Metadata: withMetadata(baseMetadata, map[string]any{
				"field_type": "fact",
				"fact_index": i,
			}),
		})
	}

	return docs
}

// SyncSummary syncs a single session summary to ChromaDB.
func (s *Sync) SyncSummary(ctx context.Context, summary *models.SessionSummary) error {
	docs := s.formatSummaryDocs(summary)
	if len(docs) == 0 {
		return nil
	}

	if err := s.client.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("add summary docs: %w", err)
	}

	log.Debug().
		Int64("summaryId", summary.ID).
		Int("docCount", len(docs)).
		Msg("Synced summary to ChromaDB")

	return nil
}

func (s *Sync) formatSummaryDocs(summary *models.SessionSummary) []vector.Document {
	docs := make([]vector.Document, 0, len(summaryFields))

	baseMetadata := map[string]any{
		"sqlite_id":        summary.ID,
		"doc_type":         string(DocTypeSessionSummary),
		"sdk_session_id":   summary.SDKSessionID,
		"project":          summary.Project,
		"created_at_epoch": summary.CreatedAtEpoch,
	}
	if summary.PromptNumber.Valid {
		baseMetadata["prompt_number"] = summary.PromptNumber.Int64
	}

	values := map[string]string{
		"request":      summary.Request.String,
		"investigated": summary.Investigated.String,
		"learned":      summary.Learned.String,
		"completed":    summary.Completed.String,
		"next_steps":   summary.NextSteps.String,
		"notes":        summary.Notes.String,
	}
	for _, field := range summaryFields {
		if values[field] == "" {
			continue
		}
		docs = append(docs, vector.Document{
			ID:       fmt.Sprintf("summary_%d_%s", summary.ID, field),
			Content:  values[field],
			Metadata: withMetadata(baseMetadata, map[string]any{"field_type": field}),
		})
	}

	return docs
}

// SyncUserPrompt syncs a single user prompt to ChromaDB.
func (s *Sync) SyncUserPrompt(ctx context.Context, prompt *models.UserPromptWithSession) error {
	if strings.TrimSpace(prompt.PromptText) == "" {
		return nil
	}
	doc := vector.Document{
		ID:      fmt.Sprintf("prompt_%d", prompt.ID),
		Content: prompt.PromptText,
		Metadata: map[string]any{
			"sqlite_id":        prompt.ID,
			"doc_type":         string(DocTypeUserPrompt),
			"sdk_session_id":   prompt.SDKSessionID,
			"project":          prompt.Project,
			"created_at_epoch": prompt.CreatedAtEpoch,
			"prompt_number":    prompt.PromptNumber,
		},
	}

	if err := s.client.AddDocuments(ctx, []vector.Document{doc}); err != nil {
		return fmt.Errorf("add prompt doc: %w", err)
	}

	log.Debug().
		Int64("promptId", prompt.ID).
		Msg("Synced user prompt to ChromaDB")

	return nil
}

// DeleteRecords removes every document derived from the given records.
func (s *Sync) DeleteRecords(ctx context.Context, observationIDs, summaryIDs, promptIDs []int64) error {
	ids := make([]string, 0, len(observationIDs)*(maxFactsPerObs+1)+len(summaryIDs)*len(summaryFields)+len(promptIDs))
	ids = append(ids, observationDocIDs(observationIDs)...)
	for _, id := range summaryIDs {
		for _, field := range summaryFields {
			ids = append(ids, fmt.Sprintf("summary_%d_%s", id, field))
		}
	}
	for _, id := range promptIDs {
		ids = append(ids, fmt.Sprintf("prompt_%d", id))
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.client.DeleteDocuments(ctx, ids); err != nil {
		return fmt.Errorf("delete docs: %w", err)
	}

	log.Debug().
		Int("observationCount", len(observationIDs)).
		Int("summaryCount", len(summaryIDs)).
		Int("promptCount", len(promptIDs)).
		Msg("Deleted records from ChromaDB")

	return nil
}

// DeleteObservations removes observation documents from ChromaDB.
func (s *Sync) DeleteObservations(ctx context.Context, observationIDs []int64) error {
	return s.DeleteRecords(ctx, observationIDs, nil, nil)
}

func observationDocIDs(observationIDs []int64) []string {
	ids := make([]string, 0, len(observationIDs)*(maxFactsPerObs+1))
	for _, obsID := range observationIDs {
		ids = append(ids, fmt.Sprintf("obs_%d_narrative", obsID))
		for i := 0; i < maxFactsPerObs; i++ {
			ids = append(ids, fmt.Sprintf("obs_%d_fact_%d", obsID, i))
		}
	}
	return ids
}

func withMetadata(base map[string]any, extra map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range extra {
		result[k] = v
	}
	return result
}
