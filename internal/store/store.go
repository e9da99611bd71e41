package store

import (
	"context"

	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/pipeline"
)

// SavedRecord is a persisted product record with its run bookkeeping.
type SavedRecord struct {
	ID        string              `json:"id"`
	ProductID string              `json:"product_id"`
	Record    model.ProductRecord `json:"record"`
	CreatedAt string              `json:"created_at"`
}

// Store defines persistence for the label pipeline: the product catalog the
// CLI reads from, the record sink it writes to, and the extraction cache the
// pipeline consults between runs.
type Store interface {
	// Products
	UpsertProduct(ctx context.Context, p model.Product) error
	GetProductByUPC(ctx context.Context, upc string) (*model.Product, error)
	FindProductByName(ctx context.Context, name string) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	// Records
	SaveRecord(ctx context.Context, rec *model.ProductRecord) (string, error)
	GetLatestRecord(ctx context.Context, productID string) (*SavedRecord, error)

	// Extraction cache
	pipeline.ExtractionCache

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
