package trace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

// pricer carries the optional fetch-through pricing configuration shared by
// every backend.
type pricer struct {
	src PricingSource
	ttl time.Duration
}

// SetPricingSource installs a fetch-through source consulted when the stored
// pricing row for a model is missing or older than ttl. A non-positive ttl
// means DefaultPricingTTL. Call before serving traffic; the field is not
// synchronized.
func (p *pricer) SetPricingSource(src PricingSource, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultPricingTTL
	}
	p.src = src
	p.ttl = ttl
}

// splitModelID derives provider and bare model id from a stored model
// identifier. "anthropic/claude-sonnet-4" splits at the first slash; a bare
// id has no provider.
func splitModelID(id string) (provider, model string) {
	if i := strings.Index(id, "/"); i > 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// pricingReader is the slice of Store that cost resolution needs.
type pricingReader interface {
	SavePricing(ctx context.Context, pricing *ModelPricing) error
	GetPricing(ctx context.Context, provider, model string) (*ModelPricing, error)
}

// resolvePricing returns the pricing row to use for a model, fetching
// through the source when the stored row is missing or stale. A nil return
// means pricing is unavailable. A stale stored row survives a failed fetch:
// old pricing beats none.
func (p *pricer) resolvePricing(ctx context.Context, store pricingReader, provider, model string) (*ModelPricing, error) {
	stored, err := store.GetPricing(ctx, provider, model)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if p.src != nil && (stored == nil || time.Since(stored.UpdatedAt) > p.ttl) {
		in, out, ferr := p.src.LookupPricing(ctx, provider, model)
		if ferr == nil && (in > 0 || out > 0) {
			fetched := &ModelPricing{
				Provider:    provider,
				Model:       model,
				InputPrice:  in,
				OutputPrice: out,
				UpdatedAt:   time.Now(),
			}
			// Cache write is best effort.
			_ = store.SavePricing(ctx, fetched)
			return fetched, nil
		}
	}
	return stored, nil
}

// costFromUsage prices aggregated usage against a per-million-token pricing
// row. Returns nil when the row is absent or carries no price: a zero price
// means unknown, not free.
func costFromUsage(usage models.Usage, pricing *ModelPricing) *models.RunCost {
	if pricing == nil || (pricing.InputPrice <= 0 && pricing.OutputPrice <= 0) {
		return nil
	}
	in := float64(usage.InputTokens) / 1e6 * pricing.InputPrice
	out := float64(usage.OutputTokens) / 1e6 * pricing.OutputPrice
	return &models.RunCost{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in + out,
		Currency:   "USD",
	}
}

// runCost is the shared CalculateRunCost implementation: every backend loads
// the run, then delegates here.
func (p *pricer) runCost(ctx context.Context, store pricingReader, run *models.Run) (*models.RunCost, error) {
	provider, model := splitModelID(run.ModelID)
	pricing, err := p.resolvePricing(ctx, store, provider, model)
	if err != nil {
		return nil, err
	}
	return costFromUsage(run.Usage, pricing), nil
}
