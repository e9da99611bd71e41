// Package vocab holds the canonical vocabulary: customer-approved ingredient
// and claim names with their aliases. The store is loaded once per run and is
// read-only afterwards, so it is safe to share across concurrent product runs.
package vocab

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Category partitions the vocabulary into ingredients and marketing claims.
type Category string

const (
	CategoryIngredient Category = "ingredient"
	CategoryClaim      Category = "claim"
)

// ErrUnavailable indicates the vocabulary could not be loaded. Matching is
// meaningless without it, so callers must abort the whole run.
var ErrUnavailable = eris.New("vocab: vocabulary unavailable")

// Entry is one approved canonical name with optional aliases.
type Entry struct {
	CanonicalName string   `yaml:"name" json:"canonical_name"`
	Aliases       []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Category      Category `yaml:"category" json:"category"`
}

// Hit is an exact-lookup result: the entry plus whether the key was an alias.
type Hit struct {
	Entry *Entry
	Alias bool
}

// Store indexes canonical entries by their normalized names and aliases.
type Store struct {
	entries []Entry
	exact   map[string][]Hit
}

type vocabFile struct {
	Entries []Entry `yaml:"entries"`
}

// Load reads a YAML vocabulary file and builds the lookup index. Any failure
// is wrapped with ErrUnavailable since the pipeline cannot proceed without
// the vocabulary.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}

	var f vocabFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	if len(f.Entries) == 0 {
		return nil, eris.Wrap(ErrUnavailable, "no entries in "+path)
	}

	s := New(f.Entries)
	zap.L().Info("vocab: loaded",
		zap.String("path", path),
		zap.Int("entries", len(f.Entries)),
		zap.Int("ingredients", len(s.Partition(CategoryIngredient))),
		zap.Int("claims", len(s.Partition(CategoryClaim))),
	)
	return s, nil
}

// New builds a store from in-memory entries. Used by tests and the XLSX
// importer.
func New(entries []Entry) *Store {
	s := &Store{
		entries: make([]Entry, len(entries)),
		exact:   make(map[string][]Hit),
	}
	copy(s.entries, entries)

	for i := range s.entries {
		e := &s.entries[i]
		s.exact[NormalizeName(e.CanonicalName)] = append(s.exact[NormalizeName(e.CanonicalName)], Hit{Entry: e})
		for _, a := range e.Aliases {
			key := NormalizeName(a)
			if key == NormalizeName(e.CanonicalName) {
				continue
			}
			s.exact[key] = append(s.exact[key], Hit{Entry: e, Alias: true})
		}
	}
	return s
}

// LookupExact returns all entries whose canonical name or alias normalizes to
// the given normalized key. Multiple hits are possible when ingredient and
// claim partitions share a name.
func (s *Store) LookupExact(normalized string) []Hit {
	return s.exact[normalized]
}

// Entries returns all entries in the store.
func (s *Store) Entries() []Entry {
	return s.entries
}

// Partition returns the entries in one category, sorted by canonical name.
func (s *Store) Partition(c Category) []Entry {
	var out []Entry
	for _, e := range s.entries {
		if e.Category == c {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalName < out[j].CanonicalName })
	return out
}

var (
	wsRun        = regexp.MustCompile(`\s+`)
	trailingPunc = regexp.MustCompile(`[\s.,;:!?]+$`)
)

// NormalizeName produces the comparison form of an ingredient or claim name:
// NFKC-folded, lowercased, whitespace collapsed, trailing punctuation
// stripped. Both the store index and the matcher use this form, so the two
// can never disagree on a key.
func NormalizeName(name string) string {
	n := norm.NFKC.String(name)
	n = strings.ToLower(strings.TrimSpace(n))
	n = wsRun.ReplaceAllString(n, " ")
	n = trailingPunc.ReplaceAllString(n, "")
	return n
}
