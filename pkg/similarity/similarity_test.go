package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerms(t *testing.T) {
	set := Terms(
		[]string{"The pager skipped the LAST row", "it was an off-by-one"},
		[]string{"internal/ui/Pager.go", `C:\src\list.go`},
	)

	for _, want := range []string{"pager", "skipped", "last", "row", "off", "one", "pager.go", "list.go"} {
		assert.Contains(t, set, want)
	}
	for _, dropped := range []string{"the", "it", "was", "an", "by"} {
		assert.NotContains(t, set, dropped)
	}
}

func TestJaccard(t *testing.T) {
	set := func(words ...string) TermSet {
		s := make(TermSet)
		for _, w := range words {
			s[w] = struct{}{}
		}
		return s
	}

	tests := []struct {
		name string
		a, b TermSet
		want float64
	}{
		{"identical", set("pager", "row"), set("pager", "row"), 1},
		{"disjoint", set("pager"), set("cache"), 0},
		{"half", set("pager", "row"), set("pager", "col"), 1.0 / 3.0},
		{"both empty", set(), set(), 1},
		{"one empty", set("pager"), set(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Jaccard(tt.b, tt.a), 1e-9)
		})
	}
}

func TestDedupe(t *testing.T) {
	sets := []TermSet{
		Terms([]string{"jwt authentication flow implementation"}, nil),
		Terms([]string{"jwt authentication flow update"}, nil),
		Terms([]string{"database migration guide"}, nil),
		Terms([]string{"jwt authentication flow implementation"}, nil),
	}

	assert.Equal(t, []int{0, 2}, Dedupe(sets, 0.5))
	assert.Equal(t, []int{0, 1, 2}, Dedupe(sets, 1))
	assert.Equal(t, []int{0, 1, 2, 3}, Dedupe(sets, 0))
	assert.Empty(t, Dedupe(nil, 0.5))
}
