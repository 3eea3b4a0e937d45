// Package models aggregates provider model catalogs into a single registry:
// model resolution, capability and pricing lookup, health checks, and
// last-used/speed bookkeeping for every model the engine can run.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/loom/internal/trace"
	"github.com/haasonsaas/loom/pkg/models"
)

// ErrNotFound indicates the registry has no entry for the requested model.
var ErrNotFound = errors.New("model not found")

const (
	// refreshTimeout bounds one scheduled catalog refresh.
	refreshTimeout = 30 * time.Second

	// speedSmoothing weights a new tokens-per-second sample against the
	// running figure.
	speedSmoothing = 0.3
)

// Source supplies one provider's model catalog and reachability. The
// provider adapters satisfy this without any registration shim.
type Source interface {
	Name() string
	Models(ctx context.Context) ([]models.ModelInfo, error)
	HealthCheck(ctx context.Context) error
}

// Registry is the aggregated model catalog. Entries are keyed
// "provider/id"; a bare model id resolves against all providers. The
// builtin defaults make resolution and pricing work before any provider
// has been registered or refreshed.
type Registry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	sources map[string]Source
	catalog map[string]*models.ModelInfo

	sched *cron.Cron
}

var _ trace.PricingSource = (*Registry)(nil)

// NewRegistry creates a registry seeded with the builtin catalog.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:  logger.With("component", "models"),
		sources: make(map[string]Source),
		catalog: make(map[string]*models.ModelInfo),
	}
	for _, info := range builtinCatalog() {
		entry := info
		r.catalog[catalogKey(info.Provider, info.ID)] = &entry
	}
	return r
}

func catalogKey(provider, id string) string {
	return provider + "/" + id
}

// RegisterProvider adds (or replaces) a provider source. The catalog is
// not refreshed until Refresh or the scheduled job runs.
func (r *Registry) RegisterProvider(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[src.Name()] = src
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refresh re-queries every registered provider's catalog. A provider that
// fails or reports no models keeps its previous entries, so a transient
// outage never empties the registry; the errors are joined and returned.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		r.mu.RLock()
		src := r.sources[name]
		r.mu.RUnlock()
		if src == nil {
			continue
		}
		infos, err := src.Models(ctx)
		if err != nil {
			r.logger.Warn("model catalog refresh failed", "provider", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if len(infos) == 0 {
			r.logger.Warn("provider returned no models, keeping cached entries", "provider", name)
			continue
		}
		r.replaceProvider(name, infos)
	}
	return errors.Join(errs...)
}

// replaceProvider swaps one provider's catalog entries, carrying over the
// bookkeeping fields and filling gaps the fresh listing leaves (providers
// rarely report pricing on dynamic discovery).
func (r *Registry) replaceProvider(provider string, infos []models.ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := make(map[string]*models.ModelInfo)
	for key, info := range r.catalog {
		if info.Provider == provider {
			old[key] = info
			delete(r.catalog, key)
		}
	}

	for i := range infos {
		info := infos[i]
		if info.ID == "" {
			continue
		}
		info.Provider = provider
		key := catalogKey(provider, info.ID)
		if prev, ok := old[key]; ok {
			info.LastUsed = prev.LastUsed
			info.TokensPerSecond = prev.TokensPerSecond
			if info.InputPrice == 0 {
				info.InputPrice = prev.InputPrice
			}
			if info.OutputPrice == 0 {
				info.OutputPrice = prev.OutputPrice
			}
			if info.ContextWindow == 0 {
				info.ContextWindow = prev.ContextWindow
			}
			if info.MaxOutputTokens == 0 {
				info.MaxOutputTokens = prev.MaxOutputTokens
			}
		}
		r.catalog[key] = &info
	}
}

// Resolve finds a model by "provider/id" or bare id and stamps its
// last-used time. A bare id that several providers serve resolves to the
// first provider in sorted order.
func (r *Registry) Resolve(modelID string) (models.ModelInfo, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return models.ModelInfo{}, fmt.Errorf("model id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.lookupLocked(id)
	if info == nil {
		return models.ModelInfo{}, fmt.Errorf("%w: %s", ErrNotFound, modelID)
	}
	info.LastUsed = time.Now()
	return *info, nil
}

// lookupLocked finds an entry by qualified key, then by bare model id.
// The caller holds the lock.
func (r *Registry) lookupLocked(id string) *models.ModelInfo {
	if info, ok := r.catalog[id]; ok {
		return info
	}
	var keys []string
	for key, info := range r.catalog {
		if info.ID == id {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return r.catalog[keys[0]]
}

// List returns copies of all catalog entries, sorted by provider then id.
func (r *Registry) List() []models.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ModelInfo, 0, len(r.catalog))
	for _, info := range r.catalog {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListByProvider returns copies of one provider's entries, sorted by id.
func (r *Registry) ListByProvider(provider string) []models.ModelInfo {
	var out []models.ModelInfo
	for _, info := range r.List() {
		if info.Provider == provider {
			out = append(out, info)
		}
	}
	return out
}

// RecordSpeed folds an observed generation speed into the model's
// tokens-per-second figure.
func (r *Registry) RecordSpeed(modelID string, outputTokens int, elapsed time.Duration) {
	if outputTokens <= 0 || elapsed <= 0 {
		return
	}
	sample := float64(outputTokens) / elapsed.Seconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.lookupLocked(strings.TrimSpace(modelID))
	if info == nil {
		return
	}
	if info.TokensPerSecond == 0 {
		info.TokensPerSecond = sample
		return
	}
	info.TokensPerSecond = (1-speedSmoothing)*info.TokensPerSecond + speedSmoothing*sample
}

// HealthCheck probes every registered provider and reports per-provider
// results; a nil map value means healthy.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	sources := make(map[string]Source, len(r.sources))
	for name, src := range r.sources {
		sources[name] = src
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(sources))
	for name, src := range sources {
		results[name] = src.HealthCheck(ctx)
	}
	return results
}

// LookupPricing implements trace.PricingSource from the aggregated
// catalog. An empty provider matches any provider serving the model.
func (r *Registry) LookupPricing(ctx context.Context, provider, model string) (float64, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var info *models.ModelInfo
	if provider != "" {
		info = r.catalog[catalogKey(provider, model)]
	} else {
		info = r.lookupLocked(model)
	}
	if info == nil {
		return 0, 0, fmt.Errorf("%w: %s/%s", ErrNotFound, provider, model)
	}
	if !info.HasPricing() {
		return 0, 0, fmt.Errorf("no pricing for %s/%s", info.Provider, info.ID)
	}
	return info.InputPrice, info.OutputPrice, nil
}

// SeedPricing writes every known price into the trace store so run cost
// calculation works before the first pricing fetch.
func (r *Registry) SeedPricing(ctx context.Context, store trace.Store) error {
	for _, info := range r.List() {
		if !info.HasPricing() {
			continue
		}
		pricing := &trace.ModelPricing{
			Provider:    info.Provider,
			Model:       info.ID,
			InputPrice:  info.InputPrice,
			OutputPrice: info.OutputPrice,
			UpdatedAt:   time.Now(),
		}
		if err := store.SavePricing(ctx, pricing); err != nil {
			return fmt.Errorf("seed pricing for %s/%s: %w", info.Provider, info.ID, err)
		}
	}
	return nil
}

// StartRefresh schedules periodic catalog refreshes. The spec takes cron
// syntax, including descriptors ("@every 1h", "@hourly").
func (r *Registry) StartRefresh(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sched != nil {
		return fmt.Errorf("refresh already scheduled")
	}
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("scheduled model refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	sched.Start()
	r.sched = sched
	return nil
}

// Close stops the refresh schedule and waits for a running job to finish.
func (r *Registry) Close() error {
	r.mu.Lock()
	sched := r.sched
	r.sched = nil
	r.mu.Unlock()
	if sched != nil {
		<-sched.Stop().Done()
	}
	return nil
}

// builtinCatalog mirrors the provider adapters' curated listings for the
// models most runs use, so a registry with no live providers still
// resolves them and prices their runs.
func builtinCatalog() []models.ModelInfo {
	anthropic := []models.ModelInfo{
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			ContextWindow:   200000,
			MaxOutputTokens: 64000,
			InputPrice:      3.00,
			OutputPrice:     15.00,
		},
		{
			ID:              "claude-opus-4-20250514",
			Name:            "Claude Opus 4",
			ContextWindow:   200000,
			MaxOutputTokens: 32000,
			InputPrice:      15.00,
			OutputPrice:     75.00,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ContextWindow:   200000,
			MaxOutputTokens: 8192,
			InputPrice:      0.80,
			OutputPrice:     4.00,
		},
	}
	for i := range anthropic {
		anthropic[i].Provider = "anthropic"
		anthropic[i].SupportsVision = true
	}

	openai := []models.ModelInfo{
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			InputPrice:      2.50,
			OutputPrice:     10.00,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o mini",
			ContextWindow:   128000,
			MaxOutputTokens: 16384,
			InputPrice:      0.15,
			OutputPrice:     0.60,
		},
	}
	for i := range openai {
		openai[i].Provider = "openai"
		openai[i].SupportsVision = true
	}

	google := []models.ModelInfo{
		{
			ID:            "gemini-2.0-flash",
			Name:          "Gemini 2.0 Flash",
			ContextWindow: 1000000,
			InputPrice:    0.10,
			OutputPrice:   0.40,
		},
		{
			ID:            "gemini-1.5-pro",
			Name:          "Gemini 1.5 Pro",
			ContextWindow: 2000000,
			InputPrice:    1.25,
			OutputPrice:   5.00,
		},
	}
	for i := range google {
		google[i].Provider = "google"
		google[i].SupportsVision = true
	}

	all := make([]models.ModelInfo, 0, len(anthropic)+len(openai)+len(google))
	all = append(all, anthropic...)
	all = append(all, openai...)
	all = append(all, google...)
	for i := range all {
		all[i].SupportsTools = true
		all[i].SupportsStreaming = true
	}
	return all
}
