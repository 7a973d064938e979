// Package similarity compares short texts by their significant words.
package similarity

import (
	"path"
	"strings"
	"unicode"
)

// TermSet is a set of normalized words.
type TermSet map[string]struct{}

// minTermLen drops short words, which are mostly noise.
const minTermLen = 3

var stopWords = map[string]struct{}{
	"the": {}, "are": {}, "was": {}, "were": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "may": {}, "might": {}, "must": {},
	"shall": {}, "this": {}, "that": {}, "these": {}, "those": {}, "and": {},
	"but": {}, "then": {}, "for": {}, "from": {}, "with": {}, "about": {},
	"into": {}, "its": {}, "which": {}, "who": {}, "what": {}, "when": {},
	"where": {}, "how": {}, "why": {}, "not": {}, "now": {},
}

// Terms builds the term set of texts. Each file contributes its base name
// as a single term.
func Terms(texts []string, files []string) TermSet {
	set := make(TermSet)
	for _, text := range texts {
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		for _, w := range words {
			if len(w) < minTermLen {
				continue
			}
			if _, stop := stopWords[w]; stop {
				continue
			}
			set[w] = struct{}{}
		}
	}
	for _, f := range files {
		if base := strings.ToLower(path.Base(strings.ReplaceAll(f, "\\", "/"))); base != "." && base != "/" {
			set[base] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func Jaccard(a, b TermSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// Dedupe returns the indexes of sets to keep, in order. A set is dropped
// when it is at least threshold similar to an earlier kept set, so callers
// list their preferred items first. A threshold <= 0 keeps everything.
func Dedupe(sets []TermSet, threshold float64) []int {
	keep := make([]int, 0, len(sets))
	for i, set := range sets {
		dup := false
		if threshold > 0 {
			for _, k := range keep {
				if Jaccard(sets[k], set) >= threshold {
					dup = true
					break
				}
			}
		}
		if !dup {
			keep = append(keep, i)
		}
	}
	return keep
}
