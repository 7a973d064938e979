// Package vectortest provides an in-memory vector.Client for tests.
package vectortest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/thebtf/mnemo/internal/vector"
)

// ErrUnavailable is returned by a Fake configured to fail.
var ErrUnavailable = errors.New("vector backend unavailable")

// Fake stores documents in memory. Query ranks documents by the number of
// query words their content contains, then by id.
type Fake struct {
	docs      map[string]vector.Document
	Queries   []string
	mu        sync.Mutex
	Connected bool
	FailQuery bool
	FailWrite bool
}

var _ vector.Client = (*Fake)(nil)

// New returns a connected, empty fake.
func New() *Fake {
	return &Fake{docs: make(map[string]vector.Document), Connected: true}
}

// AddDocuments implements vector.Client.
func (f *Fake) AddDocuments(_ context.Context, docs []vector.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrite {
		return ErrUnavailable
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return nil
}

// DeleteDocuments implements vector.Client.
func (f *Fake) DeleteDocuments(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrite {
		return ErrUnavailable
	}
	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

// Query implements vector.Client.
func (f *Fake) Query(_ context.Context, query string, limit int, where map[string]any) ([]vector.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, query)
	if f.FailQuery {
		return nil, ErrUnavailable
	}

	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		doc   vector.Document
		score int
	}
	var hits []scored
	for _, d := range f.docs {
		if !matches(d.Metadata, where) {
			continue
		}
		content := strings.ToLower(d.Content)
		score := 0
		for _, w := range words {
			if strings.Contains(content, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{d, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.ID < hits[j].doc.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]vector.QueryResult, len(hits))
	for i, h := range hits {
		results[i] = vector.QueryResult{ID: h.doc.ID, Metadata: h.doc.Metadata, Distance: 1 / float64(h.score+1)}
	}
	return results, nil
}

// IsConnected implements vector.Client.
func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Close implements vector.Client.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = false
	return nil
}

// IDs returns the stored document ids, sorted.
func (f *Fake) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Put stores a document directly, bypassing failure flags.
func (f *Fake) Put(doc vector.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
}

func matches(meta, where map[string]any) bool {
	for k, v := range where {
		if meta[k] != v {
			return false
		}
	}
	return true
}
