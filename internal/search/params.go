package search

import (
	"strings"
	"time"

	"github.com/thebtf/mnemo/internal/db/sqlite"
)

// Format selects how much of each record a response carries.
type Format string

const (
	FormatIndex Format = "index" // id, type, title, dates
	FormatFull  Format = "full"  // complete record and score
)

// Limits applied when a request leaves them unset.
const (
	DefaultSearchLimit = 20
	DefaultFindLimit   = 50
	MaxLimit           = 100
)

// Config tunes the semantic path.
type Config struct {
	RecencyWindow      time.Duration // semantic hits older than this are discarded
	BatchSize          int           // nearest neighbours requested per query
	ContextSessions    int           // summaries included in recent context
	ContextTokenBudget int           // recent-context token ceiling; 0 means unlimited
	DuplicateThreshold float64       // recent-context Jaccard similarity that collapses observations; 0 disables
}

// DefaultConfig returns the standard 90-day window and 100-hit batch.
func DefaultConfig() Config {
	return Config{
		RecencyWindow:      90 * 24 * time.Hour,
		BatchSize:          100,
		ContextSessions:    10,
		DuplicateThreshold: 0.6,
	}
}

// Params contains parameters for every search operation.
type Params struct {
	Query     string
	Project   string
	OrderBy   sqlite.OrderBy
	Format    Format
	Types     []string
	Concepts  []string
	Files     []string
	DateStart int64
	DateEnd   int64
	Limit     int
	Offset    int
}

// Filter converts params into a store filter, filling in defaults.
func (p Params) Filter(defaultLimit int, defaultOrder sqlite.OrderBy) sqlite.QueryFilter {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	order := p.OrderBy
	switch order {
	case sqlite.OrderRelevance, sqlite.OrderDateAsc, sqlite.OrderDateDesc:
	default:
		order = defaultOrder
	}

	return sqlite.QueryFilter{
		Project:   p.Project,
		OrderBy:   order,
		Types:     p.Types,
		Concepts:  p.Concepts,
		Files:     p.Files,
		DateStart: p.DateStart,
		DateEnd:   p.DateEnd,
		Limit:     limit,
		Offset:    offset,
	}
}

// SplitList flattens values that may each hold a comma-separated list,
// dropping blanks. Filters accept either a single value or a list.
func SplitList(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
