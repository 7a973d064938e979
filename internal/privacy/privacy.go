// Package privacy strips content users mark as private, and content mnemo
// injected itself, before anything is stored.
package privacy

import (
	"regexp"
	"strings"

	"github.com/thebtf/mnemo/pkg/models"
)

// Tags whose content is never stored.
const (
	PrivateTag = "private"
	ContextTag = "mnemo-context" // wraps context mnemo injects into a session
)

var (
	privateTagRegex = tagRegex(PrivateTag)
	contextTagRegex = tagRegex(ContextTag)
)

func tagRegex(name string) *regexp.Regexp {
	name = regexp.QuoteMeta(name)
	return regexp.MustCompile(`(?s)<` + name + `>.*?</` + name + `>`)
}

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripContextTags removes all <mnemo-context>...</mnemo-context> content.
func StripContextTags(text string) string {
	return contextTagRegex.ReplaceAllString(text, "")
}

// StripAllTags removes both private and context tags.
func StripAllTags(text string) string {
	return StripContextTags(StripPrivateTags(text))
}

// IsEntirelyPrivate reports whether nothing remains once private content is removed.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivateTags(text)) == ""
}

// Clean strips all tags and surrounding whitespace.
func Clean(text string) string {
	return strings.TrimSpace(StripAllTags(text))
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = Clean(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// CleanObservation cleans every free-text field of obs in place. Facts
// that were entirely private are dropped.
func CleanObservation(obs *models.ParsedObservation) {
	obs.Title = Clean(obs.Title)
	obs.Subtitle = Clean(obs.Subtitle)
	obs.Narrative = Clean(obs.Narrative)
	obs.Facts = cleanList(obs.Facts)
}

// CleanSummary cleans every free-text field of s in place.
func CleanSummary(s *models.ParsedSummary) {
	s.Request = Clean(s.Request)
	s.Investigated = Clean(s.Investigated)
	s.Learned = Clean(s.Learned)
	s.Completed = Clean(s.Completed)
	s.NextSteps = Clean(s.NextSteps)
	s.Notes = Clean(s.Notes)
}
