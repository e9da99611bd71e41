// Package pipeline turns raw label fragments into canonical, reviewable
// product records: extraction via the LLM capability, matching against the
// canonical vocabulary, cross-source reconciliation, and record assembly.
package pipeline

import (
	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/vocab"
)

// Domain selects which half of the pipeline a fragment feeds: the ingredient
// list or the marketing claims. Both halves share the matcher and reconciler;
// only the prompt, vocabulary partition, and source priority differ.
type Domain string

const (
	DomainIngredients Domain = "ingredients"
	DomainClaims      Domain = "claims"
)

// Source priority per domain, highest first. The declared text field is the
// most trustworthy observation; OCR surfaces rank below it. Claims skip the
// nutrition panel since claims do not appear there.
var (
	ingredientPriority = []model.SourceKind{
		model.SourceDeclaredText,
		model.SourceNutritionOCR,
		model.SourceMarketingOCR,
	}
	claimPriority = []model.SourceKind{
		model.SourceDeclaredText,
		model.SourceMarketingOCR,
	}
)

// PriorityFor returns the source priority order for a domain, highest first.
func PriorityFor(d Domain) []model.SourceKind {
	if d == DomainClaims {
		return claimPriority
	}
	return ingredientPriority
}

// Category returns the vocabulary partition for a domain.
func (d Domain) Category() vocab.Category {
	if d == DomainClaims {
		return vocab.CategoryClaim
	}
	return vocab.CategoryIngredient
}

func priorityRank(kind model.SourceKind, priority []model.SourceKind) int {
	for i, k := range priority {
		if k == kind {
			return i
		}
	}
	return len(priority)
}
