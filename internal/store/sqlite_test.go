package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/pipeline"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleProduct(upc, name string) model.Product {
	return model.Product{
		ID:   upc,
		Name: name,
		Fragments: []model.RawFragment{
			{ProductID: upc, SourceKind: model.SourceDeclaredText, Text: "Water, Zinc"},
			{ProductID: upc, SourceKind: model.SourceMarketingOCR, Text: "Gluten Free"},
		},
	}
}

func TestProductRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleProduct("0012345678905", "Live Clean Shampoo")
	require.NoError(t, s.UpsertProduct(ctx, want))

	got, err := s.GetProductByUPC(ctx, "0012345678905")
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestGetProductByUPCNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProductByUPC(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestUpsertProductReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u1", "Old Name")))
	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u1", "New Name")))

	got, err := s.GetProductByUPC(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestFindProductByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u1", "Live Clean Shampoo")))
	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u2", "Live Clean Conditioner")))
	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u3", "Soft Scrub Wash")))

	got, err := s.FindProductByName(ctx, "live clean shampoo")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	got, err = s.FindProductByName(ctx, "soft scrub")
	require.NoError(t, err)
	assert.Equal(t, "u3", got.ID)

	_, err = s.FindProductByName(ctx, "toothpaste")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestListProductsOrderedByUPC(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u2", "B")))
	require.NoError(t, s.UpsertProduct(ctx, sampleProduct("u1", "A")))

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "u1", products[0].ID)
	assert.Equal(t, "u2", products[1].ID)
}

func TestSaveAndGetLatestRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &model.ProductRecord{
		ProductID:   "u1",
		ProductName: "Live Clean Shampoo",
		Ingredients: []model.NormalizedItem{{CanonicalName: "Zinc", Unit: "mg", Amount: 10, Role: model.RoleActive, Confidence: 0.95, Notes: []string{}}},
		Claims:      []model.NormalizedItem{},
		Notes:       []string{},
	}

	id1, err := s.SaveRecord(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	rec2 := *rec
	rec2.RecordFlagged = true
	id2, err := s.SaveRecord(ctx, &rec2)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	latest, err := s.GetLatestRecord(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, latest.Record.RecordFlagged)
	assert.Equal(t, "Zinc", latest.Record.Ingredients[0].CanonicalName)

	_, err = s.GetLatestRecord(ctx, "nobody")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestExtractionCachePersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := pipeline.CacheKey("u1", model.SourceDeclaredText, pipeline.DomainIngredients, "Water, Zinc")

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	first := &pipeline.CachedExtraction{
		Items: []model.ExtractedItem{{RawName: "Zinc", Unit: "mg", Amount: 10, Role: model.RoleActive, SourceKind: model.SourceDeclaredText}},
		Notes: []string{"declared_text: smudged label"},
	}
	require.NoError(t, s.Put(ctx, key, first))

	// Insert-if-absent: a second write must not overwrite the first.
	require.NoError(t, s.Put(ctx, key, &pipeline.CachedExtraction{
		Items: []model.ExtractedItem{{RawName: "Iron"}},
	}))

	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Zinc", got.Items[0].RawName)
	assert.Equal(t, first.Notes, got.Notes)
}
