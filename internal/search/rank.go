package search

// IntersectRanked keeps the ids of candidates that appear in ranked, in
// ranked's order. It is the fusion step of find-by lookups: the store
// supplies the candidate set and the semantic backend only orders it.
func IntersectRanked(candidates, ranked []int64) []int64 {
	allowed := make(map[int64]bool, len(candidates))
	for _, id := range candidates {
		allowed[id] = true
	}
	out := make([]int64, 0, len(ranked))
	seen := make(map[int64]bool, len(ranked))
	for _, id := range ranked {
		if allowed[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// reorder returns the items whose id appears in ranked, sorted by rank.
// Items missing from ranked are dropped.
func reorder[T any](items []T, ranked []int64, id func(T) int64) []T {
	byID := make(map[int64]T, len(items))
	for _, it := range items {
		byID[id(it)] = it
	}
	out := make([]T, 0, len(ranked))
	for _, r := range ranked {
		if it, ok := byID[r]; ok {
			out = append(out, it)
			delete(byID, r)
		}
	}
	return out
}

// rankScore maps a rank position onto [0,1], best first. Like lexical
// scores, it is only meaningful within one result set.
func rankScore(pos, n int) float64 {
	if n <= 1 {
		return 1
	}
	return 1 - float64(pos)/float64(n-1)
}

// pageSlice applies offset and limit to an in-memory result.
func pageSlice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
