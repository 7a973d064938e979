package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/pkg/models"
)

// DefaultPollInterval is how often the processor looks for queued work.
const DefaultPollInterval = time.Second

// QueuePayload is the body of a pending message. Exactly one of
// Observation and Summary is set, matching the message type.
type QueuePayload struct {
	Observation     *models.ParsedObservation `json:"observation,omitempty"`
	Summary         *models.ParsedSummary     `json:"summary,omitempty"`
	SDKSessionID    string                    `json:"sdk_session_id,omitempty"`
	Project         string                    `json:"project,omitempty"`
	DiscoveryTokens int64                     `json:"discovery_tokens,omitempty"`
}

var errBadPayload = errors.New("invalid queue payload")

// Processor drains the pending-message queue into the store.
type Processor struct {
	sessions *sqlite.SessionStore
	pending  *sqlite.PendingStore
	ingest   *Ingestor
	claimed  metric.Int64Counter
	wake     chan struct{}
	interval time.Duration
	stale    time.Duration
}

// NewProcessor creates a processor. stale is how long a message may stay
// claimed before startup recovery returns it to the queue.
func NewProcessor(sessions *sqlite.SessionStore, pending *sqlite.PendingStore, ingest *Ingestor, interval, stale time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Processor{
		sessions: sessions,
		pending:  pending,
		ingest:   ingest,
		claimed:  claimedCounter(otel.Meter("github.com/thebtf/mnemo/worker")),
		wake:     make(chan struct{}, 1),
		interval: interval,
		stale:    stale,
	}
}

// claimedCounter falls back to a no-op counter when the meter rejects it.
func claimedCounter(meter metric.Meter) metric.Int64Counter {
	claimed, err := meter.Int64Counter("mnemo.queue.claimed",
		metric.WithDescription("Queue messages claimed for processing"),
	)
	if err != nil {
		log.Debug().Err(err).Str("instrument", "mnemo.queue.claimed").Msg("Failed to create metric instrument")
		return noop.Int64Counter{}
	}
	return claimed
}

// Notify wakes the processor ahead of its next poll.
func (p *Processor) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run recovers abandoned messages, then processes the queue until ctx ends.
func (p *Processor) Run(ctx context.Context) error {
	if p.stale > 0 {
		n, err := p.pending.ResetStaleProcessing(ctx, p.stale)
		if err != nil {
			return fmt.Errorf("reset stale messages: %w", err)
		}
		if n > 0 {
			log.Info().Int64("count", n).Msg("Returned stale messages to the queue")
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.ProcessAll(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Queue processing failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// ProcessAll processes every pending message and returns how many were
// stored. Messages that fail are marked for retry and do not stop the run.
func (p *Processor) ProcessAll(ctx context.Context) (int, error) {
	sessionIDs, err := p.pending.GetSessionsWithPendingMessages(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sessionID := range sessionIDs {
		for {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			msg, err := p.pending.ClaimNext(ctx, sessionID)
			if err != nil {
				return processed, err
			}
			if msg == nil {
				break
			}
			p.claimed.Add(ctx, 1, metric.WithAttributes(attribute.String("message.type", string(msg.MessageType))))

			if err := p.process(ctx, msg); err != nil {
				retry, markErr := p.pending.MarkFailed(ctx, msg.ID)
				if markErr != nil {
					return processed, markErr
				}
				log.Warn().Err(err).
					Int64("messageId", msg.ID).
					Bool("willRetry", retry).
					Msg("Queue message failed")
				if retry {
					// leave the rest of this session for the next pass
					break
				}
				continue
			}
			if err := p.pending.ConfirmProcessed(ctx, msg.ID); err != nil {
				return processed, err
			}
			processed++
		}
	}
	return processed, nil
}

func (p *Processor) process(ctx context.Context, msg *models.PendingMessage) error {
	if !msg.Payload.Valid || msg.Payload.String == "" {
		return fmt.Errorf("%w: empty", errBadPayload)
	}
	var payload QueuePayload
	if err := json.Unmarshal([]byte(msg.Payload.String), &payload); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}

	sdkID, project := payload.SDKSessionID, payload.Project
	if sdkID == "" || project == "" {
		sess, err := p.sessions.GetSessionByID(ctx, msg.SessionDBID)
		if err != nil {
			return err
		}
		if sess == nil {
			return sqlite.ErrSessionNotFound
		}
		if sdkID == "" {
			sdkID = sess.ClaudeSessionID
			if sess.SDKSessionID.Valid {
				sdkID = sess.SDKSessionID.String
			}
		}
		if project == "" {
			project = sess.Project
		}
	}
	promptNumber := int(msg.PromptNumber.Int64)

	switch msg.MessageType {
	case models.MessageTypeObservation:
		if payload.Observation == nil {
			return fmt.Errorf("%w: observation missing", errBadPayload)
		}
		_, err := p.ingest.StoreObservation(ctx, sdkID, project, payload.Observation, promptNumber, payload.DiscoveryTokens)
		return err
	case models.MessageTypeSummarize:
		if payload.Summary == nil {
			return fmt.Errorf("%w: summary missing", errBadPayload)
		}
		if isSelfReferentialSummary(payload.Summary) {
			log.Debug().Int64("messageId", msg.ID).Msg("Dropping summary with no session work")
			return nil
		}
		_, err := p.ingest.StoreSummary(ctx, sdkID, project, payload.Summary, promptNumber, payload.DiscoveryTokens)
		return err
	default:
		return fmt.Errorf("%w: unknown message type %q", errBadPayload, msg.MessageType)
	}
}

var idleSummaryMarkers = []string{
	"no work has been completed",
	"no work completed",
	"no substantive work",
	"awaiting user input",
	"awaiting tool",
	"waiting for the user",
	"extraction agent",
}

// isSelfReferentialSummary reports whether a summary describes an idle
// session rather than real work: two or more of its fields read like a
// placeholder.
func isSelfReferentialSummary(s *models.ParsedSummary) bool {
	hits := 0
	for _, field := range []string{s.Request, s.Investigated, s.Learned, s.Completed, s.NextSteps} {
		lower := strings.ToLower(field)
		for _, marker := range idleSummaryMarkers {
			if strings.Contains(lower, marker) {
				hits++
				break
			}
		}
	}
	return hits >= 2
}
