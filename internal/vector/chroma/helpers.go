package chroma

import (
	"strconv"
	"strings"

	"github.com/thebtf/mnemo/internal/vector"
)

// DocType represents the type of document stored in ChromaDB.
type DocType string

const (
	DocTypeObservation    DocType = "observation"
	DocTypeSessionSummary DocType = "session_summary"
	DocTypeUserPrompt     DocType = "user_prompt"
)

// Document id prefixes. Observations and summaries are split into several
// documents (obs_<id>_<field>, summary_<id>_<field>); a prompt is one (prompt_<id>).
const (
	obsPrefix     = "obs_"
	summaryPrefix = "summary_"
	promptPrefix  = "prompt_"
)

// ExtractedIDs contains SQLite IDs extracted from ChromaDB results, grouped by
// document type, deduplicated, in backend rank order.
type ExtractedIDs struct {
	ObservationIDs []int64
	SummaryIDs     []int64
	PromptIDs      []int64
}

// Empty reports whether no ids were recovered.
func (e *ExtractedIDs) Empty() bool {
	return len(e.ObservationIDs) == 0 && len(e.SummaryIDs) == 0 && len(e.PromptIDs) == 0
}

// ParseDocID recovers the document type and SQLite id from a document id.
func ParseDocID(docID string) (DocType, int64, bool) {
	var docType DocType
	var rest string
	switch {
	case strings.HasPrefix(docID, obsPrefix):
		docType, rest = DocTypeObservation, docID[len(obsPrefix):]
	case strings.HasPrefix(docID, summaryPrefix):
		docType, rest = DocTypeSessionSummary, docID[len(summaryPrefix):]
	case strings.HasPrefix(docID, promptPrefix):
		docType, rest = DocTypeUserPrompt, docID[len(promptPrefix):]
	default:
		return "", 0, false
	}

	num, suffix, hasSuffix := strings.Cut(rest, "_")
	if docType == DocTypeUserPrompt && hasSuffix {
		return "", 0, false
	}
	if docType != DocTypeUserPrompt && (!hasSuffix || suffix == "") {
		return "", 0, false
	}
	id, err := strconv.ParseInt(num, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return docType, id, true
}

// BuildWhereFilter creates a where filter map for ChromaDB queries.
// If docType is empty, no doc_type filter is added.
func BuildWhereFilter(docType DocType, project string) map[string]any {
	where := make(map[string]any)
	if docType != "" {
		where["doc_type"] = string(docType)
	}
	if project != "" {
		where["project"] = project
	}
	return where
}

// FilterRecent drops results whose created_at_epoch metadata is older than
// cutoff (epoch ms). Results without a timestamp are dropped too.
func FilterRecent(results []vector.QueryResult, cutoff int64) []vector.QueryResult {
	kept := make([]vector.QueryResult, 0, len(results))
	for _, r := range results {
		epoch, ok := metadataInt(r.Metadata, "created_at_epoch")
		if !ok || epoch < cutoff {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// ExtractIDsByDocType recovers SQLite ids from query results, grouped by
// document type and deduplicated while keeping the first (best) position.
func ExtractIDsByDocType(results []vector.QueryResult) *ExtractedIDs {
	ids := &ExtractedIDs{}
	seen := map[DocType]map[int64]bool{
		DocTypeObservation:    {},
		DocTypeSessionSummary: {},
		DocTypeUserPrompt:     {},
	}

	for _, result := range results {
		docType, id, ok := ParseDocID(result.ID)
		if !ok {
			continue
		}
		if seen[docType][id] {
			continue
		}
		seen[docType][id] = true

		switch docType {
		case DocTypeObservation:
			ids.ObservationIDs = append(ids.ObservationIDs, id)
		case DocTypeSessionSummary:
			ids.SummaryIDs = append(ids.SummaryIDs, id)
		case DocTypeUserPrompt:
			ids.PromptIDs = append(ids.PromptIDs, id)
		}
	}

	return ids
}

// metadataInt reads an integer metadata value. Values decoded from JSON are
// float64; values built in-process may be any integer type.
func metadataInt(meta map[string]any, key string) (int64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	default:
		return 0, false
	}
}
