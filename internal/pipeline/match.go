package pipeline

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/labelworks/parser-cli/internal/config"
	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/vocab"
)

// unmatchedNote is attached to items no vocabulary entry could claim.
const unmatchedNote = "no canonical match above threshold"

// Match resolves an extracted item's raw name against the canonical
// vocabulary. Resolution order: exact canonical name, exact alias, then
// fuzzy similarity over every name and alias in the store. Ties at the same
// fuzzy score break toward the entry whose category matches the domain, then
// toward the lexicographically first canonical name, so matching is fully
// deterministic regardless of vocabulary order.
func Match(item model.ExtractedItem, store *vocab.Store, d Domain, cfg config.PipelineConfig) model.MatchedItem {
	out := model.MatchedItem{ExtractedItem: item}

	normalized := vocab.NormalizeName(item.RawName)
	if normalized == "" {
		out.MatchMethod = model.MatchUnmatched
		out.MatchNote = unmatchedNote
		return out
	}

	if hit, ok := bestExactHit(store.LookupExact(normalized), d.Category()); ok {
		out.CanonicalName = hit.Entry.CanonicalName
		out.MatchScore = 1.0
		out.MatchMethod = model.MatchExact
		if hit.Alias {
			out.MatchMethod = model.MatchAlias
		}
		return out
	}

	entry, score := bestFuzzyMatch(normalized, store, d.Category())
	if entry != nil && score >= cfg.FuzzyThreshold {
		out.CanonicalName = entry.CanonicalName
		out.MatchScore = score
		out.MatchMethod = model.MatchFuzzy
		return out
	}

	out.MatchScore = score
	out.MatchMethod = model.MatchUnmatched
	out.MatchNote = unmatchedNote
	return out
}

// bestExactHit picks one entry from the exact-lookup hits: prefer the
// domain's category, then the lexicographically first canonical name, and
// prefer canonical-name hits over alias hits within a tie.
func bestExactHit(hits []vocab.Hit, preferred vocab.Category) (vocab.Hit, bool) {
	var best vocab.Hit
	for _, h := range hits {
		if best.Entry == nil || exactHitLess(h, best, preferred) {
			best = h
		}
	}
	return best, best.Entry != nil
}

func exactHitLess(a, b vocab.Hit, preferred vocab.Category) bool {
	aCat, bCat := a.Entry.Category == preferred, b.Entry.Category == preferred
	if aCat != bCat {
		return aCat
	}
	if a.Entry.CanonicalName != b.Entry.CanonicalName {
		return a.Entry.CanonicalName < b.Entry.CanonicalName
	}
	return !a.Alias && b.Alias
}

// bestFuzzyMatch scores the normalized name against every canonical name and
// alias in the store and returns the winning entry with its score. The
// returned entry may sit below the acceptance threshold; the caller decides.
func bestFuzzyMatch(normalized string, store *vocab.Store, preferred vocab.Category) (*vocab.Entry, float64) {
	target := tokenSort(normalized)
	params := levenshtein.NewParams()

	var best *vocab.Entry
	bestScore := 0.0

	entries := store.Entries()
	for i := range entries {
		e := &entries[i]
		score := similarityTo(target, e.CanonicalName, params)
		for _, alias := range e.Aliases {
			if s := similarityTo(target, alias, params); s > score {
				score = s
			}
		}

		switch {
		case score > bestScore:
			best, bestScore = e, score
		case score == bestScore && best != nil && score > 0:
			if fuzzyTieLess(e, best, preferred) {
				best = e
			}
		}
	}

	return best, bestScore
}

func fuzzyTieLess(a, b *vocab.Entry, preferred vocab.Category) bool {
	aCat, bCat := a.Category == preferred, b.Category == preferred
	if aCat != bCat {
		return aCat
	}
	return a.CanonicalName < b.CanonicalName
}

func similarityTo(sortedTarget, candidate string, params *levenshtein.Params) float64 {
	return levenshtein.Similarity(sortedTarget, tokenSort(vocab.NormalizeName(candidate)), params)
}

// tokenSort orders the words of an already-normalized name so that word
// order differences ("extract lavender" vs "lavender extract") do not
// penalize the similarity score.
func tokenSort(normalized string) string {
	fields := strings.Fields(normalized)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
