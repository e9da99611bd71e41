package pipeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/labelworks/parser-cli/internal/config"
	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/vocab"
)

// Reconcile merges one product's matched items into one normalized item per
// (canonical name, role). attempted is the number of source fragments that
// were actually submitted for this domain; it anchors the corroboration part
// of the confidence score. Unmatched items are grouped by their normalized
// raw name so the per-record uniqueness invariant holds for them too, and
// every unmatched item comes out flagged.
//
// Unit and amount come from the highest-priority source that states them;
// lower-priority sources that state a different value do not overwrite it —
// they produce a conflict note and a flag instead. Output order is fixed by
// (canonical name, role) so repeated runs serialize identically.
func Reconcile(matched []model.MatchedItem, attempted int, priority []model.SourceKind, cfg config.PipelineConfig) []model.NormalizedItem {
	type groupKey struct {
		name      string
		role      model.Role
		unmatched bool
	}

	groups := make(map[groupKey][]model.MatchedItem)
	for _, m := range matched {
		key := groupKey{name: m.CanonicalName, role: m.Role}
		if m.CanonicalName == "" {
			key.name = vocab.NormalizeName(m.RawName)
			key.unmatched = true
		}
		groups[key] = append(groups[key], m)
	}

	out := make([]model.NormalizedItem, 0, len(groups))
	for key, members := range groups {
		sortMembers(members, priority)
		item := reconcileGroup(key.name, key.unmatched, members, attempted, priority, cfg)
		out = append(out, item)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CanonicalName != out[j].CanonicalName {
			return out[i].CanonicalName < out[j].CanonicalName
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// sortMembers fixes the in-group order: source priority first, then raw name,
// so "the highest-priority member" is well defined for any input order.
func sortMembers(members []model.MatchedItem, priority []model.SourceKind) {
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := priorityRank(members[i].SourceKind, priority), priorityRank(members[j].SourceKind, priority)
		if ri != rj {
			return ri < rj
		}
		return members[i].RawName < members[j].RawName
	})
}

func reconcileGroup(name string, unmatched bool, members []model.MatchedItem, attempted int, priority []model.SourceKind, cfg config.PipelineConfig) model.NormalizedItem {
	item := model.NormalizedItem{
		CanonicalName: name,
		Unit:          model.DefaultUnit,
		Amount:        model.DefaultAmount,
		Role:          members[0].Role,
		Notes:         []string{},
	}
	if unmatched {
		// Surface the raw name as observed, not its normalized form.
		item.CanonicalName = members[0].RawName
	}

	// Unit and amount: highest-priority member that states a value wins.
	unitIdx, amountIdx := -1, -1
	for i, m := range members {
		if unitIdx < 0 && m.Unit != model.DefaultUnit {
			unitIdx = i
		}
		if amountIdx < 0 && m.Amount != model.DefaultAmount {
			amountIdx = i
		}
	}
	if unitIdx >= 0 {
		item.Unit = members[unitIdx].Unit
	}
	if amountIdx >= 0 {
		item.Amount = members[amountIdx].Amount
	}

	// Conflict detection against the chosen values. Only sources that state
	// a value can disagree; defaults mean "not observed".
	conflict := false
	for i, m := range members {
		unitConflicts := i != unitIdx && m.Unit != model.DefaultUnit && unitIdx >= 0 && m.Unit != item.Unit
		amountConflicts := i != amountIdx && m.Amount != model.DefaultAmount && amountIdx >= 0 &&
			relativeDiff(m.Amount, item.Amount) > cfg.AmountTolerance
		if unitConflicts || amountConflicts {
			conflict = true
			item.Notes = append(item.Notes, fmt.Sprintf(
				"conflict: %s reports unit=%q amount=%v (kept unit=%q amount=%v)",
				m.SourceKind, m.Unit, m.Amount, item.Unit, item.Amount,
			))
		}
	}

	// Serving indicator: first non-empty in priority order.
	for _, m := range members {
		if m.ServingIndicator != "" {
			item.ServingIndicator = m.ServingIndicator
			break
		}
	}

	// Distinct supporting sources, in priority order.
	seen := make(map[model.SourceKind]bool)
	for _, m := range members {
		if !seen[m.SourceKind] {
			seen[m.SourceKind] = true
			item.SupportingSources = append(item.SupportingSources, m.SourceKind)
		}
	}

	// Carry forward per-item extraction notes and the unmatched diagnostic.
	for _, m := range members {
		if m.Note != "" {
			appendUnique(&item.Notes, fmt.Sprintf("%s: %s", m.SourceKind, m.Note))
		}
		if m.MatchNote != "" {
			appendUnique(&item.Notes, m.MatchNote)
		}
	}

	base := 0.0
	for _, m := range members {
		if m.MatchScore > base {
			base = m.MatchScore
		}
	}
	item.Confidence = confidence(base, len(item.SupportingSources), attempted, cfg.SingleSourceCap)

	item.Flagged = conflict || unmatched || item.Confidence < cfg.AcceptanceThreshold
	return item
}

// confidence scales the best match score by how much of the attempted source
// set corroborates the item. A single supporting source is capped below full
// certainty no matter how clean the string match was; full corroboration
// across all attempted sources passes the match score through unchanged.
func confidence(base float64, supporting, attempted int, singleSourceCap float64) float64 {
	if singleSourceCap <= 0 || singleSourceCap > 1 {
		singleSourceCap = 0.9
	}
	if attempted < supporting {
		attempted = supporting
	}
	frac := 0.0
	if attempted > 1 && supporting > 1 {
		frac = float64(supporting-1) / float64(attempted-1)
	}
	c := base * (singleSourceCap + (1-singleSourceCap)*frac)
	if c > 1 {
		c = 1
	}
	return c
}

func relativeDiff(a, b float64) float64 {
	ref := math.Max(math.Abs(a), math.Abs(b))
	if ref == 0 {
		return 0
	}
	return math.Abs(a-b) / ref
}

func appendUnique(notes *[]string, note string) {
	for _, n := range *notes {
		if n == note {
			return
		}
	}
	*notes = append(*notes, note)
}
