package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/labelworks/parser-cli/internal/config"
	"github.com/labelworks/parser-cli/internal/vocab"
	"github.com/labelworks/parser-cli/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// scriptedClient returns canned responses in order and counts calls. Simpler
// than mock expectations when the exact request content does not matter.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*anthropic.MessageResponse
	errs      []error
	calls     int
}

func (c *scriptedClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	if len(c.responses) > 0 {
		return c.responses[len(c.responses)-1], nil
	}
	return textResponse("{}"), nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// --- Shared fixtures ---

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		FuzzyThreshold:        0.85,
		AcceptanceThreshold:   0.6,
		AmountTolerance:       0.05,
		SingleSourceCap:       0.9,
		RetryAttempts:         1,
		RetryInitialBackoffMS: 1,
		MaxConcurrentProducts: 2,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			Model:     "test-model",
			MaxTokens: 1024,
		},
		Pipeline: testPipelineConfig(),
	}
}

func testVocab() *vocab.Store {
	return vocab.New([]vocab.Entry{
		{CanonicalName: "Aloe Vera Extract", Aliases: []string{"aloe", "aloe barbadensis"}, Category: vocab.CategoryIngredient},
		{CanonicalName: "Sodium Laureth Sulfate", Aliases: []string{"SLES"}, Category: vocab.CategoryIngredient},
		{CanonicalName: "Zinc", Category: vocab.CategoryIngredient},
		{CanonicalName: "Vitamin C", Aliases: []string{"ascorbic acid"}, Category: vocab.CategoryIngredient},
		{CanonicalName: "Gluten Free", Aliases: []string{"no gluten"}, Category: vocab.CategoryClaim},
		{CanonicalName: "Certified Organic", Aliases: []string{"organic"}, Category: vocab.CategoryClaim},
		{CanonicalName: "Paraben Free", Category: vocab.CategoryClaim},
	})
}
