// Package worker provides the mnemo worker service: the HTTP API, the
// queue processor and the write path they share.
package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/privacy"
	"github.com/thebtf/mnemo/internal/vector/chroma"
	"github.com/thebtf/mnemo/internal/vocabulary"
	"github.com/thebtf/mnemo/internal/worker/sse"
	"github.com/thebtf/mnemo/pkg/models"
)

// Ingestor is the single write path for new memories. It cleans private
// content, stores the record, mirrors it to the semantic backend and
// announces it. Backend failures are logged; the store stays authoritative.
type Ingestor struct {
	observations *sqlite.ObservationStore
	summaries    *sqlite.SummaryStore
	prompts      *sqlite.PromptStore
	sync         *chroma.Sync // nil when the semantic backend is disabled
	vocab        *vocabulary.Holder
	events       *sse.Broadcaster
}

// StoreObservation stores a parsed observation and returns its id.
func (i *Ingestor) StoreObservation(ctx context.Context, sdkSessionID, project string, obs *models.ParsedObservation, promptNumber int, discoveryTokens int64) (int64, error) {
	privacy.CleanObservation(obs)
	obs.Concepts = vocabulary.NormalizeConcepts(obs.Concepts)
	if obs.Type == "" {
		obs.Type = models.ObsTypeDiscovery
	}
	if i.vocab != nil {
		vocab := i.vocab.Get()
		if !vocab.IsType(string(obs.Type)) {
			log.Debug().Str("type", string(obs.Type)).Msg("Storing observation with unrecommended type")
		}
		if extra := vocab.Unrecognized(obs.Concepts); len(extra) > 0 {
			log.Debug().Strs("concepts", extra).Msg("Storing observation with unrecommended concepts")
		}
	}

	id, _, err := i.observations.StoreObservation(ctx, sdkSessionID, project, obs, promptNumber, discoveryTokens)
	if err != nil {
		return 0, fmt.Errorf("store observation: %w", err)
	}

	if i.sync != nil {
		stored, err := i.observations.GetObservationByID(ctx, id)
		if err == nil && stored != nil {
			err = i.sync.SyncObservation(ctx, stored)
		}
		if err != nil {
			log.Warn().Err(err).Int64("observationId", id).Msg("Semantic sync failed")
		}
	}

	i.publish(sse.Event{Type: sse.EventObservation, ID: id, Project: project})
	return id, nil
}

// StoreSummary stores a parsed session summary and returns its id.
func (i *Ingestor) StoreSummary(ctx context.Context, sdkSessionID, project string, summary *models.ParsedSummary, promptNumber int, discoveryTokens int64) (int64, error) {
	privacy.CleanSummary(summary)

	id, _, err := i.summaries.StoreSummary(ctx, sdkSessionID, project, summary, promptNumber, discoveryTokens)
	if err != nil {
		return 0, fmt.Errorf("store summary: %w", err)
	}

	if i.sync != nil {
		stored, err := i.summaries.GetSummaryByID(ctx, id)
		if err == nil && stored != nil {
			err = i.sync.SyncSummary(ctx, stored)
		}
		if err != nil {
			log.Warn().Err(err).Int64("summaryId", id).Msg("Semantic sync failed")
		}
	}

	i.publish(sse.Event{Type: sse.EventSummary, ID: id, Project: project})
	return id, nil
}

// SavePrompt stores a user prompt. A prompt that is entirely private is
// skipped and reported with id 0.
func (i *Ingestor) SavePrompt(ctx context.Context, claudeSessionID string, promptNumber int, text string) (int64, error) {
	if privacy.IsEntirelyPrivate(text) {
		log.Debug().Str("claudeSessionId", claudeSessionID).Msg("Skipping private prompt")
		return 0, nil
	}

	id, err := i.prompts.SaveUserPrompt(ctx, claudeSessionID, promptNumber, privacy.Clean(text))
	if err != nil {
		return 0, fmt.Errorf("save prompt: %w", err)
	}

	stored, err := i.prompts.GetPromptByID(ctx, id)
	if err != nil || stored == nil {
		log.Warn().Err(err).Int64("promptId", id).Msg("Failed to reload prompt")
		return id, nil
	}
	if i.sync != nil {
		if err := i.sync.SyncUserPrompt(ctx, stored); err != nil {
			log.Warn().Err(err).Int64("promptId", id).Msg("Semantic sync failed")
		}
	}

	i.publish(sse.Event{Type: sse.EventPrompt, ID: id, Project: stored.Project})
	return id, nil
}

func (i *Ingestor) publish(ev sse.Event) {
	if i.events != nil {
		i.events.Publish(ev)
	}
}
