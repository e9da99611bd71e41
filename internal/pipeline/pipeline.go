package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/labelworks/parser-cli/internal/config"
	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/resilience"
	"github.com/labelworks/parser-cli/internal/vocab"
	"github.com/labelworks/parser-cli/pkg/anthropic"
)

// Pipeline runs the extract → match → reconcile → build flow for products.
// The vocabulary store is read-only, so one Pipeline may process many
// products concurrently.
type Pipeline struct {
	cfg     *config.Config
	vocab   *vocab.Store
	ai      anthropic.Client
	cache   ExtractionCache
	limiter *rate.Limiter
}

// New creates a Pipeline. cache may be nil to disable extraction caching.
func New(cfg *config.Config, vs *vocab.Store, ai anthropic.Client, cache ExtractionCache) *Pipeline {
	limit := rate.Inf
	if cfg.Anthropic.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Anthropic.RequestsPerSecond)
	}
	return &Pipeline{
		cfg:     cfg,
		vocab:   vs,
		ai:      ai,
		cache:   cache,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// extractionTask is one (fragment, domain) extraction unit. The declared
// text fragment feeds both domains; OCR fragments feed one each.
type extractionTask struct {
	frag   model.RawFragment
	domain Domain
}

// Run executes one product's pipeline: all fragment extractions run
// concurrently, reconciliation waits for every one of them to complete or
// definitively fail, and the record is assembled all-or-nothing at the end.
// A failed fragment contributes no items and a record-level note; only
// cancellation makes Run return an error.
func (p *Pipeline) Run(ctx context.Context, product model.Product) (*model.ProductRecord, error) {
	log := zap.L().With(zap.String("product", product.ID), zap.String("name", product.Name))
	start := time.Now()

	tasks := buildTasks(product)

	var mu sync.Mutex
	extracted := make(map[Domain][]model.MatchedItem)
	var recordNotes []string
	attempted := make(map[Domain]int)
	for _, t := range tasks {
		attempted[t.domain]++
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			items, notes, err := p.extractCached(gCtx, task.frag, task.domain)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn("pipeline: fragment extraction failed",
					zap.String("source", string(task.frag.SourceKind)),
					zap.String("domain", string(task.domain)),
					zap.Error(err),
				)
				mu.Lock()
				recordNotes = append(recordNotes, fmt.Sprintf("extraction failed for %s (%s): %s",
					task.frag.SourceKind, task.domain, err))
				mu.Unlock()
				return nil
			}

			matched := make([]model.MatchedItem, 0, len(items))
			for _, item := range items {
				matched = append(matched, Match(item, p.vocab, task.domain, p.cfg.Pipeline))
			}

			mu.Lock()
			extracted[task.domain] = append(extracted[task.domain], matched...)
			recordNotes = append(recordNotes, notes...)
			mu.Unlock()
			return nil
		})
	}

	// Barrier: reconciliation must not start until every extraction has
	// completed or definitively failed.
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: run cancelled")
	}

	ingredients := Reconcile(extracted[DomainIngredients], attempted[DomainIngredients], PriorityFor(DomainIngredients), p.cfg.Pipeline)
	claims := Reconcile(extracted[DomainClaims], attempted[DomainClaims], PriorityFor(DomainClaims), p.cfg.Pipeline)

	sort.Strings(recordNotes)
	rec, err := BuildRecord(product.ID, product.Name, ingredients, claims, recordNotes)
	if err != nil {
		return nil, err
	}

	log.Info("pipeline: product complete",
		zap.Int("ingredients", len(rec.Ingredients)),
		zap.Int("claims", len(rec.Claims)),
		zap.Bool("flagged", rec.RecordFlagged),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return rec, nil
}

// RunAll processes products with bounded concurrency. Per-product problems
// are absorbed into that product's record; a nil slot in the result means
// the product was skipped by cancellation. Cancellation is honored
// cooperatively at product boundaries and never yields a partial record.
func (p *Pipeline) RunAll(ctx context.Context, products []model.Product) ([]*model.ProductRecord, error) {
	limit := p.cfg.Pipeline.MaxConcurrentProducts
	if limit <= 0 {
		limit = 1
	}

	records := make([]*model.ProductRecord, len(products))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, product := range products {
		i, product := i, product
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			rec, err := p.Run(gCtx, product)
			if err != nil {
				zap.L().Warn("pipeline: product run failed",
					zap.String("product", product.ID),
					zap.Error(err),
				)
				return nil
			}
			records[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return records, err
	}
	return records, ctx.Err()
}

// buildTasks expands a product's fragments into per-domain extraction tasks,
// skipping fragments whose text is empty (they were never observed, so they
// do not count as attempted sources).
func buildTasks(product model.Product) []extractionTask {
	var tasks []extractionTask
	for _, frag := range product.Fragments {
		if strings.TrimSpace(frag.Text) == "" {
			continue
		}
		if frag.ProductID == "" {
			frag.ProductID = product.ID
		}
		for _, d := range []Domain{DomainIngredients, DomainClaims} {
			if priorityRank(frag.SourceKind, PriorityFor(d)) < len(PriorityFor(d)) {
				tasks = append(tasks, extractionTask{frag: frag, domain: d})
			}
		}
	}
	return tasks
}

// extractCached runs one extraction behind the cache and the rate limiter.
func (p *Pipeline) extractCached(ctx context.Context, frag model.RawFragment, d Domain) ([]model.ExtractedItem, []string, error) {
	key := CacheKey(frag.ProductID, frag.SourceKind, d, frag.Text)

	if p.cache != nil {
		cached, err := p.cache.Get(ctx, key)
		if err != nil {
			zap.L().Warn("pipeline: cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached.Items, cached.Notes, nil
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: rate limit wait")
	}

	retry := resilience.RetryConfig{
		MaxAttempts:    p.cfg.Pipeline.RetryAttempts,
		InitialBackoff: time.Duration(p.cfg.Pipeline.RetryInitialBackoffMS) * time.Millisecond,
		OnRetry:        resilience.RetryLogger("anthropic", "extract"),
	}

	items, notes, err := Extract(ctx, frag, d, p.ai, p.cfg.Anthropic, retry)
	if err != nil {
		return nil, nil, err
	}

	if p.cache != nil {
		if putErr := p.cache.Put(ctx, key, &CachedExtraction{Items: items, Notes: notes}); putErr != nil {
			zap.L().Warn("pipeline: cache write failed", zap.Error(putErr))
		}
	}
	return items, notes, nil
}
