package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/pkg/models"
)

// Parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

var (
	// ErrAlreadyRegistered is returned when registering a duplicate name.
	ErrAlreadyRegistered = errors.New("tools: tool already registered")

	// ErrEmptyName is returned when a tool reports a blank name.
	ErrEmptyName = errors.New("tools: tool name is required")
)

// RegistryOptions configures the registry. Zero values get defaults.
type RegistryOptions struct {
	// Timeout bounds a single tool execution. Default: 30s.
	Timeout time.Duration

	// Logger and Metrics may be nil.
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Registry manages available tools with thread-safe registration, lookup,
// and schema-validated dispatch.
type Registry struct {
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Registry{
		timeout: opts.Timeout,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tools:   make(map[string]Tool),
	}
}

// Register adds a tool. Registering a name twice is an error so a
// misconfigured bootstrap cannot silently shadow a tool.
func (r *Registry) Register(tool Tool) error {
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tools: register %s: name exceeds %d characters", name[:32], MaxToolNameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tools: register %s: %w", name, ErrAlreadyRegistered)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// ListByNames resolves an agent's allowlist to tools. Unknown names are
// silently filtered: the agent definition may reference tools that are not
// installed in this process.
func (r *Registry) ListByNames(names []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// Execute dispatches a tool call. Every failure mode, including an unknown
// tool, invalid parameters, a timeout, or a panic inside the tool, is
// returned as a failure outcome rather than an error so the loop can feed
// it back to the model as an observation.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) *models.ToolOutcome {
	start := time.Now()
	outcome := r.dispatch(ctx, name, params)
	duration := time.Since(start)

	if r.metrics != nil {
		status := "success"
		if !outcome.Success {
			status = "error"
		}
		r.metrics.RecordToolExecution(name, status, duration.Seconds())
	}
	if r.logger != nil && !outcome.Success {
		r.logger.Warn(ctx, "tool execution failed",
			"tool", name,
			"error", outcome.Error,
			"duration", duration,
		)
	}
	return outcome
}

func (r *Registry) dispatch(ctx context.Context, name string, params json.RawMessage) *models.ToolOutcome {
	if len(name) > MaxToolNameLength {
		return failure("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(params) > MaxToolParamsSize {
		return failure("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return failure("tool not found: %s", name)
	}

	if err := validateParams(tool.Schema(), params); err != nil {
		return failure("invalid parameters for %s: %v", name, err)
	}

	return r.executeWithTimeout(ctx, tool, params)
}

func (r *Registry) executeWithTimeout(ctx context.Context, tool Tool, params json.RawMessage) *models.ToolOutcome {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type execResult struct {
		outcome *models.ToolOutcome
		err     error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- execResult{err: fmt.Errorf("panic: %v\n%s", rec, debug.Stack())}
			}
		}()
		outcome, err := tool.Execute(execCtx, params)
		resultCh <- execResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return failure("tool %s failed: %v", tool.Name(), res.err)
		}
		if res.outcome == nil {
			return failure("tool %s returned no result", tool.Name())
		}
		return res.outcome
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return failure("tool %s cancelled: %v", tool.Name(), ctx.Err())
		}
		return failure("tool %s timed out after %s", tool.Name(), r.timeout)
	}
}

func failure(format string, args ...any) *models.ToolOutcome {
	return &models.ToolOutcome{Success: false, Error: fmt.Sprintf(format, args...)}
}
