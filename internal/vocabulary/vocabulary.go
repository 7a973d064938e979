// Package vocabulary manages the YAML-configured recommended observation
// types and concepts. The vocabulary is advisory: stored records may carry
// any type or concept.
package vocabulary

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/mnemo/pkg/models"
)

// Term is one vocabulary entry.
type Term struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Critical    bool   `yaml:"critical,omitempty" json:"critical,omitempty"`
}

// File is the top-level YAML structure.
type File struct {
	Types    []Term `yaml:"types"`
	Concepts []Term `yaml:"concepts"`
}

// DefaultConcepts is the built-in concept vocabulary.
var DefaultConcepts = []Term{
	{Name: "how-it-works"},
	{Name: "why-it-exists"},
	{Name: "what-changed"},
	{Name: "problem-solution", Critical: true},
	{Name: "gotcha", Critical: true},
	{Name: "pattern", Critical: true},
	{Name: "trade-off", Critical: true},
}

// Registry holds one loaded vocabulary.
type Registry struct {
	types    []Term
	concepts []Term
	byType   map[string]bool
	byConc   map[string]bool
}

// Builtin returns the vocabulary used when no file is configured.
func Builtin() *Registry {
	types := make([]Term, len(models.RecommendedObservationTypes))
	for i, t := range models.RecommendedObservationTypes {
		types[i] = Term{Name: string(t)}
	}
	return newRegistry(types, DefaultConcepts)
}

func newRegistry(types, concepts []Term) *Registry {
	r := &Registry{
		byType: make(map[string]bool, len(types)),
		byConc: make(map[string]bool, len(concepts)),
	}
	for _, t := range types {
		name := normalize(t.Name)
		if name == "" || r.byType[name] {
			continue
		}
		t.Name = name
		r.byType[name] = true
		r.types = append(r.types, t)
	}
	for _, c := range concepts {
		name := normalize(c.Name)
		if name == "" || r.byConc[name] {
			continue
		}
		c.Name = name
		r.byConc[name] = true
		r.concepts = append(r.concepts, c)
	}
	return r
}

// Load reads the YAML file at path. A missing file yields the builtin
// vocabulary; a file that omits a section keeps the builtin entries for it.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Builtin(), nil
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}

	builtin := Builtin()
	types, concepts := f.Types, f.Concepts
	if len(types) == 0 {
		types = builtin.types
	}
	if len(concepts) == 0 {
		concepts = builtin.concepts
	}
	return newRegistry(types, concepts), nil
}

// Types returns the recommended types in definition order.
func (r *Registry) Types() []Term {
	return append([]Term(nil), r.types...)
}

// Concepts returns the recommended concepts in definition order.
func (r *Registry) Concepts() []Term {
	return append([]Term(nil), r.concepts...)
}

// CriticalConcepts returns the names of concepts flagged critical.
func (r *Registry) CriticalConcepts() []string {
	var out []string
	for _, c := range r.concepts {
		if c.Critical {
			out = append(out, c.Name)
		}
	}
	return out
}

// IsType reports whether name is a recommended type.
func (r *Registry) IsType(name string) bool {
	return r.byType[normalize(name)]
}

// IsConcept reports whether name is a recommended concept.
func (r *Registry) IsConcept(name string) bool {
	return r.byConc[normalize(name)]
}

// Unrecognized returns the concepts not in the vocabulary.
func (r *Registry) Unrecognized(concepts []string) []string {
	var out []string
	for _, c := range concepts {
		if !r.IsConcept(c) {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeConcepts lowercases and trims concepts, dropping blanks and
// duplicates while keeping first-seen order.
func NormalizeConcepts(concepts []string) []string {
	seen := make(map[string]bool, len(concepts))
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		c = normalize(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Holder publishes the current registry to concurrent readers and swaps it
// on reload.
type Holder struct {
	current atomic.Pointer[Registry]
	path    string
}

// NewHolder loads path into a new holder. If the file cannot be loaded the
// holder serves the builtin vocabulary and the error is returned with it.
func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path}
	if err := h.Reload(); err != nil {
		h.current.Store(Builtin())
		return h, err
	}
	return h, nil
}

// Path returns the watched file path.
func (h *Holder) Path() string {
	return h.path
}

// Get returns the current registry.
func (h *Holder) Get() *Registry {
	return h.current.Load()
}

// Reload re-reads the file. On error the previous registry stays in place.
func (h *Holder) Reload() error {
	r, err := Load(h.path)
	if err != nil {
		return err
	}
	h.current.Store(r)
	return nil
}
