package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thebtf/mnemo/pkg/models"
)

// ErrInvalidAnchor is returned for an anchor string that names neither an
// observation, a summary nor a timestamp.
var ErrInvalidAnchor = errors.New("invalid timeline anchor")

// AnchorKind says what a timeline anchor refers to.
type AnchorKind int

const (
	AnchorObservation AnchorKind = iota
	AnchorSummary
	AnchorTimestamp
)

// Anchor is the record or instant a timeline window is centered on.
type Anchor struct {
	Kind  AnchorKind
	ID    int64
	Epoch int64 // epoch ms; set for timestamp anchors
}

var anchorTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseAnchor accepts an observation id ("123"), a summary id ("S12"), an
// epoch in milliseconds ("T1709596800000") or a timestamp in RFC 3339 or a
// plain date form. A bare number is always an observation id.
func ParseAnchor(raw string) (Anchor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Anchor{}, ErrInvalidAnchor
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return Anchor{Kind: AnchorObservation, ID: id}, nil
	}
	switch raw[0] {
	case 'S', 's':
		if id, err := strconv.ParseInt(raw[1:], 10, 64); err == nil && id > 0 {
			return Anchor{Kind: AnchorSummary, ID: id}, nil
		}
	case 'T', 't':
		if epoch, err := strconv.ParseInt(raw[1:], 10, 64); err == nil && epoch > 0 {
			return Anchor{Kind: AnchorTimestamp, Epoch: epoch}, nil
		}
	}
	for _, layout := range anchorTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Anchor{Kind: AnchorTimestamp, Epoch: t.UnixMilli()}, nil
		}
	}
	return Anchor{}, fmt.Errorf("%w: %q", ErrInvalidAnchor, raw)
}

// TimelineStore reconstructs chronological windows across observations,
// summaries and prompts.
type TimelineStore struct {
	store *Store
}

// NewTimelineStore creates a timeline reader.
func NewTimelineStore(store *Store) *TimelineStore {
	return &TimelineStore{store: store}
}

// GetTimeline returns everything recorded in a window around the anchor.
//
// The window is found by probing observations only: up to before+1 rows at
// or before the anchor and after+1 rows at or after it, by id for
// observation anchors and by epoch otherwise. The oldest and newest epochs
// found bound the window, which is then fetched from all three tables and
// merged by epoch.
//
// When a side of the probe is empty the bound collapses to the anchor's own
// epoch if the anchor is a stored record. A raw timestamp or a missing
// record outside the stored range yields an empty timeline, as does an
// empty probe on both sides.
func (t *TimelineStore) GetTimeline(ctx context.Context, anchor Anchor, before, after int, project string) (*models.Timeline, error) {
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	anchorEpoch, isRecord, err := t.resolveAnchor(ctx, anchor)
	if err != nil {
		return nil, err
	}

	var beforeEpochs, afterEpochs []int64
	if anchor.Kind == AnchorObservation {
		beforeEpochs, err = t.probe(ctx, `o.id <= ?`, `o.id DESC`, anchor.ID, before+1, project)
		if err != nil {
			return nil, err
		}
		afterEpochs, err = t.probe(ctx, `o.id >= ?`, `o.id ASC`, anchor.ID, after+1, project)
	} else {
		beforeEpochs, err = t.probe(ctx, `o.created_at_epoch <= ?`, `o.created_at_epoch DESC, o.id DESC`, anchorEpoch, before+1, project)
		if err != nil {
			return nil, err
		}
		afterEpochs, err = t.probe(ctx, `o.created_at_epoch >= ?`, `o.created_at_epoch ASC, o.id ASC`, anchorEpoch, after+1, project)
	}
	if err != nil {
		return nil, err
	}

	empty := &models.Timeline{}
	if len(beforeEpochs) == 0 && len(afterEpochs) == 0 {
		return empty, nil
	}
	if (len(beforeEpochs) == 0 || len(afterEpochs) == 0) && !isRecord {
		return empty, nil
	}

	start, end := anchorEpoch, anchorEpoch
	if len(beforeEpochs) > 0 {
		start = minEpoch(beforeEpochs)
	}
	if len(afterEpochs) > 0 {
		end = maxEpoch(afterEpochs)
	}
	if start > end {
		start, end = end, start
	}

	return t.GetTimelineRange(ctx, start, end, project)
}

// GetTimelineRange returns all records with start <= epoch <= end, each
// stream ascending, plus their merge.
func (t *TimelineStore) GetTimelineRange(ctx context.Context, start, end int64, project string) (*models.Timeline, error) {
	f := QueryFilter{Project: project, DateStart: start, DateEnd: end, OrderBy: OrderDateAsc}

	observations, err := NewObservationStore(t.store).FilterObservations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("timeline observations: %w", err)
	}
	summaries, err := NewSummaryStore(t.store).FilterSummaries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("timeline summaries: %w", err)
	}
	prompts, err := NewPromptStore(t.store).FilterPrompts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("timeline prompts: %w", err)
	}

	return &models.Timeline{
		Observations: observations,
		Summaries:    summaries,
		Prompts:      prompts,
		Items:        MergeTimeline(observations, summaries, prompts),
		StartEpoch:   start,
		EndEpoch:     end,
	}, nil
}

// resolveAnchor returns the anchor's epoch and whether it names a stored record.
func (t *TimelineStore) resolveAnchor(ctx context.Context, anchor Anchor) (int64, bool, error) {
	var query string
	switch anchor.Kind {
	case AnchorTimestamp:
		return anchor.Epoch, false, nil
	case AnchorObservation:
		query = `SELECT created_at_epoch FROM observations WHERE id = ?`
	case AnchorSummary:
		query = `SELECT created_at_epoch FROM session_summaries WHERE id = ?`
	default:
		return 0, false, ErrInvalidAnchor
	}

	var epoch int64
	err := t.store.QueryRowContext(ctx, query, anchor.ID).Scan(&epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return epoch, true, nil
}

func (t *TimelineStore) probe(ctx context.Context, cond, order string, value int64, limit int, project string) ([]int64, error) {
	// #nosec G202 -- cond and order are compile-time constants
	query := `SELECT o.created_at_epoch FROM observations o
		WHERE ` + cond + ` AND (? = '' OR o.project = ?)
		ORDER BY ` + order + `
		LIMIT ?`

	rows, err := t.store.QueryContext(ctx, query, value, project, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func minEpoch(epochs []int64) int64 {
	m := epochs[0]
	for _, e := range epochs[1:] {
		if e < m {
			m = e
		}
	}
	return m
}

func maxEpoch(epochs []int64) int64 {
	m := epochs[0]
	for _, e := range epochs[1:] {
		if e > m {
			m = e
		}
	}
	return m
}

var kindOrder = map[models.TimelineItemKind]int{
	models.TimelinePrompt:      0,
	models.TimelineObservation: 1,
	models.TimelineSummary:     2,
}

// MergeTimeline interleaves the three streams by epoch. Ties put a prompt
// before the observations it produced and summaries last.
func MergeTimeline(observations []*models.Observation, summaries []*models.SessionSummary, prompts []*models.UserPromptWithSession) []models.TimelineItem {
	items := make([]models.TimelineItem, 0, len(observations)+len(summaries)+len(prompts))
	for _, o := range observations {
		items = append(items, models.TimelineItem{Kind: models.TimelineObservation, ID: o.ID, Epoch: o.CreatedAtEpoch, Observation: o})
	}
	for _, s := range summaries {
		items = append(items, models.TimelineItem{Kind: models.TimelineSummary, ID: s.ID, Epoch: s.CreatedAtEpoch, Summary: s})
	}
	for _, p := range prompts {
		items = append(items, models.TimelineItem{Kind: models.TimelinePrompt, ID: p.ID, Epoch: p.CreatedAtEpoch, Prompt: p})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Epoch != items[j].Epoch {
			return items[i].Epoch < items[j].Epoch
		}
		if items[i].Kind != items[j].Kind {
			return kindOrder[items[i].Kind] < kindOrder[items[j].Kind]
		}
		return items[i].ID < items[j].ID
	})
	return items
}
