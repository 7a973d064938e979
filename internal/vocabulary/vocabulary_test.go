package vocabulary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(terms []Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Name
	}
	return out
}

func TestLoadMissingFile(t *testing.T) {
	r, err := Load("/nonexistent/path/that/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"discovery", "decision", "bugfix", "feature", "refactor", "change"}, names(r.Types()))
	assert.Equal(t, []string{"problem-solution", "gotcha", "pattern", "trade-off"}, r.CriticalConcepts())
}

func TestLoadValidYAML(t *testing.T) {
	const yamlContent = `
types:
  - name: Bugfix
    description: something was broken
  - name: incident
  - name: bugfix
concepts:
  - name: security
    critical: true
  - name: performance
`
	path := filepath.Join(t.TempDir(), "vocabulary.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"bugfix", "incident"}, names(r.Types()), "names are normalized and deduplicated")
	assert.Equal(t, "something was broken", r.Types()[0].Description)
	assert.Equal(t, []string{"security", "performance"}, names(r.Concepts()))
	assert.Equal(t, []string{"security"}, r.CriticalConcepts())

	assert.True(t, r.IsType(" INCIDENT "))
	assert.False(t, r.IsType("decision"))
	assert.True(t, r.IsConcept("Security"))
	assert.Equal(t, []string{"pattern"}, r.Unrecognized([]string{"security", "pattern"}))
}

func TestLoadPartialFileKeepsBuiltinSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocabulary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concepts:\n  - name: security\n"), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, names(Builtin().Types()), names(r.Types()))
	assert.Equal(t, []string{"security"}, names(r.Concepts()))
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeConcepts(t *testing.T) {
	assert.Equal(t, []string{"pattern", "gotcha"}, NormalizeConcepts([]string{" Pattern", "", "gotcha", "PATTERN"}))
	assert.Equal(t, []string{}, NormalizeConcepts(nil))
}

func TestHolderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocabulary.yaml")
	h, err := NewHolder(path)
	require.NoError(t, err)
	assert.Equal(t, path, h.Path())
	assert.True(t, h.Get().IsType("bugfix"))

	require.NoError(t, os.WriteFile(path, []byte("types:\n  - name: incident\n"), 0o600))
	require.NoError(t, h.Reload())
	assert.True(t, h.Get().IsType("incident"))
	assert.False(t, h.Get().IsType("bugfix"))

	require.NoError(t, os.WriteFile(path, []byte("types: [unclosed"), 0o600))
	assert.Error(t, h.Reload())
	assert.True(t, h.Get().IsType("incident"), "a bad file keeps the previous vocabulary")
}

func TestNewHolder_InvalidFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocabulary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types: [unclosed"), 0o600))

	h, err := NewHolder(path)
	require.Error(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Get().IsType("bugfix"))

	require.NoError(t, os.WriteFile(path, []byte("types:\n  - name: incident\n"), 0o600))
	require.NoError(t, h.Reload())
	assert.True(t, h.Get().IsType("incident"))
}
