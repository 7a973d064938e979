// Package vector provides the interface to the semantic search backend.
package vector

import "context"

// Document is one text chunk stored in the semantic backend.
type Document struct {
	Metadata map[string]any `json:"metadata"`
	ID       string         `json:"id"`
	Content  string         `json:"content"`
}

// QueryResult is one nearest-neighbour hit, in backend rank order.
type QueryResult struct {
	Metadata map[string]any `json:"metadata"`
	ID       string         `json:"id"`
	Distance float64        `json:"distance"`
}

// Client defines the semantic backend operations used by search and sync.
type Client interface {
	// AddDocuments stores documents, replacing any with the same id.
	AddDocuments(ctx context.Context, docs []Document) error

	// DeleteDocuments removes documents by their IDs. Unknown ids are ignored.
	DeleteDocuments(ctx context.Context, ids []string) error

	// Query returns up to limit nearest documents for the query text.
	// where is an optional equality filter on metadata.
	Query(ctx context.Context, query string, limit int, where map[string]any) ([]QueryResult, error)

	// IsConnected reports whether the backend is currently reachable.
	IsConnected() bool

	// Close releases resources.
	Close() error
}
