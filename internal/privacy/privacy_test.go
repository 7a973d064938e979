package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/mnemo/pkg/models"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		private string
		context string
		all     string
	}{
		{name: "no tags", input: "Hello world", private: "Hello world", context: "Hello world", all: "Hello world"},
		{
			name:    "private tag",
			input:   "Hello <private>secret</private> world",
			private: "Hello  world", context: "Hello <private>secret</private> world", all: "Hello  world",
		},
		{
			name:    "multiline private tag",
			input:   "Hello <private>\nmulti\nline\n</private> world",
			private: "Hello  world", context: "Hello <private>\nmulti\nline\n</private> world", all: "Hello  world",
		},
		{
			name:    "context tag",
			input:   "Hello <mnemo-context>memory</mnemo-context> world",
			private: "Hello <mnemo-context>memory</mnemo-context> world", context: "Hello  world", all: "Hello  world",
		},
		{
			name:    "interleaved",
			input:   "A <private>B</private> C <mnemo-context>D</mnemo-context> E",
			private: "A  C <mnemo-context>D</mnemo-context> E", context: "A <private>B</private> C  E", all: "A  C  E",
		},
		{
			name:    "nested tags stop at the first close",
			input:   "<private>outer <private>inner</private> outer</private>",
			private: " outer</private>", context: "<private>outer <private>inner</private> outer</private>", all: " outer</private>",
		},
		{
			name:    "tags are case sensitive",
			input:   "Hello <PRIVATE>secret</PRIVATE> world",
			private: "Hello <PRIVATE>secret</PRIVATE> world", context: "Hello <PRIVATE>secret</PRIVATE> world", all: "Hello <PRIVATE>secret</PRIVATE> world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.private, StripPrivateTags(tt.input))
			assert.Equal(t, tt.context, StripContextTags(tt.input))
			assert.Equal(t, tt.all, StripAllTags(tt.input))
		})
	}
}

func TestIsEntirelyPrivate(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "Hello world", want: false},
		{input: "<private>secret</private>", want: true},
		{input: "  <private>secret</private>  ", want: true},
		{input: "Hello <private>secret</private>", want: false},
		{input: "<private>a</private><private>b</private>", want: true},
		{input: "", want: true},
		{input: "   ", want: true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEntirelyPrivate(tt.input), "input %q", tt.input)
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Hello world", Clean("Hello world"))
	assert.Equal(t, "Hello  and  world", Clean("\n  Hello <private>secret</private> and <mnemo-context>memory</mnemo-context> world  \n"))
	assert.Equal(t, "", Clean("  <private>secret</private>  "))

	long := "Hello <private>" + strings.Repeat("x", 10000) + "</private> world"
	assert.Equal(t, "Hello  world", Clean(long))
}

func TestCleanObservation(t *testing.T) {
	obs := &models.ParsedObservation{
		Title:     "Rotate <private>prod-key-123</private> credentials",
		Subtitle:  " <mnemo-context>earlier notes</mnemo-context> ",
		Narrative: "Replaced the key.",
		Facts:     []string{"<private>key was prod-key-123</private>", " rotation is monthly "},
		Concepts:  []string{"security"},
	}
	CleanObservation(obs)

	assert.Equal(t, "Rotate  credentials", obs.Title)
	assert.Equal(t, "", obs.Subtitle)
	assert.Equal(t, "Replaced the key.", obs.Narrative)
	assert.Equal(t, []string{"rotation is monthly"}, obs.Facts)
	assert.Equal(t, []string{"security"}, obs.Concepts)
}

func TestCleanSummary(t *testing.T) {
	s := &models.ParsedSummary{
		Request: "Deploy <private>with token abc</private>",
		Learned: "<mnemo-context>old</mnemo-context>Deploys need a tag",
		Notes:   "<private>all secret</private>",
	}
	CleanSummary(s)

	assert.Equal(t, "Deploy", s.Request)
	assert.Equal(t, "Deploys need a tag", s.Learned)
	assert.Equal(t, "", s.Notes)
}
