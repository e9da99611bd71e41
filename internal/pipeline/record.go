package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/labelworks/parser-cli/internal/model"
)

// ErrMissingProductID means a record build was attempted without a product
// id. That is a caller bug, not a runtime condition to recover from.
var ErrMissingProductID = eris.New("pipeline: missing product id")

// BuildRecord assembles the final per-product record. Pure assembly: no
// retries, no external calls. The record is flagged iff any child item is
// flagged. Slices are always non-nil so the serialized JSON shape is stable.
func BuildRecord(productID, productName string, ingredients, claims []model.NormalizedItem, notes []string) (*model.ProductRecord, error) {
	if productID == "" {
		return nil, ErrMissingProductID
	}

	rec := &model.ProductRecord{
		ProductID:   productID,
		ProductName: productName,
		Ingredients: append([]model.NormalizedItem{}, ingredients...),
		Claims:      append([]model.NormalizedItem{}, claims...),
		Notes:       append([]string{}, notes...),
	}

	for _, item := range rec.Ingredients {
		if item.Flagged {
			rec.RecordFlagged = true
			break
		}
	}
	if !rec.RecordFlagged {
		for _, item := range rec.Claims {
			if item.Flagged {
				rec.RecordFlagged = true
				break
			}
		}
	}

	return rec, nil
}
