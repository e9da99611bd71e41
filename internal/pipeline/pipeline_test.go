package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/pkg/anthropic"
)

// routedClient dispatches on the prompt contents so concurrent extraction
// order does not matter: the prompt embeds the source kind and the domain's
// payload key.
type routedClient struct {
	mu      sync.Mutex
	calls   int
	respond func(prompt string) (*anthropic.MessageResponse, error)
}

func (c *routedClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.respond(req.Messages[0].Content)
}

func (c *routedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func promptDomain(prompt string) Domain {
	if strings.Contains(prompt, `"claims"`) {
		return DomainClaims
	}
	return DomainIngredients
}

func testProduct() model.Product {
	return model.Product{
		ID:   "0012345678905",
		Name: "Live Clean Shampoo",
		Fragments: []model.RawFragment{
			{SourceKind: model.SourceDeclaredText, Text: "Zinc 10mg, Aloe Vera Extract"},
			{SourceKind: model.SourceNutritionOCR, Text: "Zinc 10 mg per tablet"},
			{SourceKind: model.SourceMarketingOCR, Text: "Gluten Free! With soothing aloe."},
		},
	}
}

// happyResponder answers every (source, domain) combination for testProduct.
func happyResponder(prompt string) (*anthropic.MessageResponse, error) {
	d := promptDomain(prompt)
	switch {
	case d == DomainIngredients && strings.Contains(prompt, string(model.SourceDeclaredText)):
		return textResponse(`{"0012345678905": {"ingredients": [
			{"name": "Zinc", "unit": "mg", "amount": 10, "type": "active", "source": "declared_text"},
			{"name": "Aloe Vera Extract", "unit": "n/a", "amount": 0, "type": "active", "source": "declared_text"}
		]}}`), nil
	case d == DomainIngredients && strings.Contains(prompt, string(model.SourceNutritionOCR)):
		return textResponse(`{"0012345678905": {"ingredients": [
			{"name": "Zinc", "unit": "mg", "amount": 10, "type": "active", "source": "nutrition_label_ocr"}
		]}, "servingIndicator": "per tablet"}`), nil
	case d == DomainIngredients && strings.Contains(prompt, string(model.SourceMarketingOCR)):
		return textResponse(`{"0012345678905": {"ingredients": [
			{"name": "aloe", "unit": "n/a", "amount": 0, "type": "active", "source": "marketing_label_ocr"}
		]}}`), nil
	case d == DomainClaims && strings.Contains(prompt, string(model.SourceMarketingOCR)):
		return textResponse(`{"0012345678905": {"claims": [
			{"name": "Gluten Free", "unit": "n/a", "amount": 0, "source": "marketing_label_ocr"}
		]}}`), nil
	default:
		return textResponse(`{"0012345678905": {"claims": []}}`), nil
	}
}

func TestPipelineRunEndToEnd(t *testing.T) {
	client := &routedClient{respond: happyResponder}
	p := New(testConfig(), testVocab(), client, nil)

	rec, err := p.Run(context.Background(), testProduct())
	require.NoError(t, err)

	// Declared text feeds both domains, OCR fragments one each: 5 calls.
	assert.Equal(t, 5, client.callCount())

	require.Len(t, rec.Ingredients, 2)
	assert.Equal(t, "Aloe Vera Extract", rec.Ingredients[0].CanonicalName)
	assert.Equal(t, "Zinc", rec.Ingredients[1].CanonicalName)

	zinc := rec.Ingredients[1]
	assert.Equal(t, "mg", zinc.Unit)
	assert.Equal(t, 10.0, zinc.Amount)
	assert.Equal(t, "per tablet", zinc.ServingIndicator)
	assert.Equal(t, []model.SourceKind{model.SourceDeclaredText, model.SourceNutritionOCR}, zinc.SupportingSources)
	assert.InDelta(t, 0.95, zinc.Confidence, 1e-9)
	assert.False(t, zinc.Flagged)

	aloe := rec.Ingredients[0]
	assert.Equal(t, []model.SourceKind{model.SourceDeclaredText, model.SourceMarketingOCR}, aloe.SupportingSources)
	assert.InDelta(t, 0.95, aloe.Confidence, 1e-9)

	require.Len(t, rec.Claims, 1)
	gf := rec.Claims[0]
	assert.Equal(t, "Gluten Free", gf.CanonicalName)
	assert.InDelta(t, 0.9, gf.Confidence, 1e-9)
	assert.False(t, gf.Flagged)

	assert.False(t, rec.RecordFlagged)
	assert.Empty(t, rec.Notes)
}

func TestPipelineRunIdempotentWithCache(t *testing.T) {
	client := &routedClient{respond: happyResponder}
	p := New(testConfig(), testVocab(), client, NewMemoryCache())

	first, err := p.Run(context.Background(), testProduct())
	require.NoError(t, err)
	second, err := p.Run(context.Background(), testProduct())
	require.NoError(t, err)

	// The second run is served entirely from the cache.
	assert.Equal(t, 5, client.callCount())

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestPipelineRunPartialSourceFailure(t *testing.T) {
	client := &routedClient{respond: func(prompt string) (*anthropic.MessageResponse, error) {
		if promptDomain(prompt) == DomainIngredients && strings.Contains(prompt, string(model.SourceNutritionOCR)) {
			return nil, eris.New("scan service unavailable")
		}
		return happyResponder(prompt)
	}}
	p := New(testConfig(), testVocab(), client, nil)

	rec, err := p.Run(context.Background(), testProduct())
	require.NoError(t, err)

	// Zinc degrades to a single supporting source but the record still builds.
	require.Len(t, rec.Ingredients, 2)
	zinc := rec.Ingredients[1]
	assert.Equal(t, []model.SourceKind{model.SourceDeclaredText}, zinc.SupportingSources)
	assert.InDelta(t, 0.9, zinc.Confidence, 1e-9)

	require.Len(t, rec.Notes, 1)
	assert.Contains(t, rec.Notes[0], "extraction failed")
	assert.Contains(t, rec.Notes[0], string(model.SourceNutritionOCR))
	assert.False(t, rec.RecordFlagged)
}

func TestPipelineRunUnmatchedFlagsRecord(t *testing.T) {
	client := &routedClient{respond: func(prompt string) (*anthropic.MessageResponse, error) {
		if promptDomain(prompt) == DomainIngredients && strings.Contains(prompt, string(model.SourceDeclaredText)) {
			return textResponse(`{"0012345678905": {"ingredients": [
				{"name": "Unobtainium", "unit": "n/a", "amount": 0}
			]}}`), nil
		}
		return textResponse(`{"0012345678905": {"ingredients": [], "claims": []}}`), nil
	}}
	p := New(testConfig(), testVocab(), client, nil)

	rec, err := p.Run(context.Background(), testProduct())
	require.NoError(t, err)

	require.Len(t, rec.Ingredients, 1)
	assert.Equal(t, "Unobtainium", rec.Ingredients[0].CanonicalName)
	assert.True(t, rec.Ingredients[0].Flagged)
	assert.True(t, rec.RecordFlagged)
}

func TestPipelineRunNoFragments(t *testing.T) {
	client := &routedClient{respond: happyResponder}
	p := New(testConfig(), testVocab(), client, nil)

	rec, err := p.Run(context.Background(), model.Product{
		ID:        "p-empty",
		Name:      "Empty",
		Fragments: []model.RawFragment{{SourceKind: model.SourceDeclaredText, Text: "  "}},
	})
	require.NoError(t, err)

	assert.Zero(t, client.callCount())
	assert.Empty(t, rec.Ingredients)
	assert.Empty(t, rec.Claims)
	assert.False(t, rec.RecordFlagged)
}

func TestBuildTasksFanOut(t *testing.T) {
	tasks := buildTasks(testProduct())

	counts := map[Domain]int{}
	for _, task := range tasks {
		counts[task.domain]++
		assert.Equal(t, "0012345678905", task.frag.ProductID)
	}
	// Declared feeds both domains, nutrition only ingredients, marketing both.
	assert.Equal(t, 3, counts[DomainIngredients])
	assert.Equal(t, 2, counts[DomainClaims])
}

func TestRunAllKeepsInputOrder(t *testing.T) {
	client := &routedClient{respond: happyResponder}
	p := New(testConfig(), testVocab(), client, nil)

	p1 := testProduct()
	p2 := testProduct()
	p2.ID, p2.Name = "0099999999990", "Soft Scrub Wash"
	for i := range p2.Fragments {
		p2.Fragments[i].ProductID = ""
	}

	records, err := p.RunAll(context.Background(), []model.Product{p1, p2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0])
	require.NotNil(t, records[1])
	assert.Equal(t, p1.ID, records[0].ProductID)
	assert.Equal(t, p2.ID, records[1].ProductID)
}

func TestRunAllCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &routedClient{respond: happyResponder}
	p := New(testConfig(), testVocab(), client, nil)

	records, err := p.RunAll(ctx, []model.Product{testProduct()})
	assert.Error(t, err)
	assert.Nil(t, records[0])
}
