// Package agent implements the execution engine: it resolves a declarative
// agent definition to a provider-backed model, then drives the reason/act
// loop over it. Each iteration sends the conversation buffer to the model,
// dispatches any tool calls it requests under the agent's allowlist, feeds
// the observations back, and persists the turn to the trace store as it
// completes. The loop ends when the model answers without tool calls or the
// turn limit runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/internal/agents"
	"github.com/haasonsaas/loom/internal/memory"
	modelregistry "github.com/haasonsaas/loom/internal/models"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/stream"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/trace"
	"github.com/haasonsaas/loom/pkg/models"
)

const (
	// DefaultMaxTurns bounds the loop when neither the engine options nor
	// the run options say otherwise.
	DefaultMaxTurns = 10

	// defaultSummaryTemperature is the sampling temperature for windowing
	// summaries and memory extraction calls.
	defaultSummaryTemperature = 0.2

	// sessionBuffer is the channel capacity of engine-opened session sinks.
	sessionBuffer = 256
)

// EngineOptions wires the engine's collaborators. Agents, Providers, Tools,
// Store and Catalog are required; everything else has a working default.
type EngineOptions struct {
	// Agents resolves agent ids to definitions.
	Agents agents.Repository

	// Providers are the model adapters, keyed by their Name().
	Providers []Provider

	// Tools dispatches tool calls.
	Tools *tools.Registry

	// Store persists runs, turns and tool executions.
	Store trace.Store

	// Catalog resolves model ids to providers and records usage.
	Catalog *modelregistry.Registry

	// Sessions maps streaming session ids to sinks. A nil value gets a
	// fresh registry.
	Sessions *stream.Registry

	// Memory persists structured memory documents. Nil disables structured
	// memory even for agents that enable it.
	Memory *memory.FileStore

	// Logger, Metrics and Tracer may be nil; nil metrics and tracing are
	// skipped, a nil logger gets a default.
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// MaxTurns bounds the loop. Default: DefaultMaxTurns.
	MaxTurns int

	// SummaryTemperature is used for summarization and extraction calls.
	// Default: 0.2.
	SummaryTemperature float64
}

// Engine executes agents. It is safe for concurrent use; each call drives
// an independent run and the only shared mutable state lives behind the
// session registry and the trace store.
type Engine struct {
	agents    agents.Repository
	providers map[string]Provider
	tools     *tools.Registry
	store     trace.Store
	catalog   *modelregistry.Registry
	sessions  *stream.Registry
	memories  *memory.FileStore

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	maxTurns    int
	summaryTemp float64
}

// NewEngine validates the options and builds an engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("engine: agent repository is required")
	}
	if len(opts.Providers) == 0 {
		return nil, fmt.Errorf("engine: at least one provider is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("engine: tool registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: trace store is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("engine: model catalog is required")
	}

	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		name := strings.TrimSpace(p.Name())
		if name == "" {
			return nil, fmt.Errorf("engine: provider with empty name")
		}
		if _, ok := providers[name]; ok {
			return nil, fmt.Errorf("engine: duplicate provider %q", name)
		}
		providers[name] = p
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = stream.NewRegistry(opts.Metrics)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	summaryTemp := opts.SummaryTemperature
	if summaryTemp <= 0 {
		summaryTemp = defaultSummaryTemperature
	}

	return &Engine{
		agents:      opts.Agents,
		providers:   providers,
		tools:       opts.Tools,
		store:       opts.Store,
		catalog:     opts.Catalog,
		sessions:    sessions,
		memories:    opts.Memory,
		logger:      logger,
		metrics:     opts.Metrics,
		tracer:      tracer,
		maxTurns:    maxTurns,
		summaryTemp: summaryTemp,
	}, nil
}

// Sessions exposes the session registry so transports can pre-register
// their own sinks under known session ids.
func (e *Engine) Sessions() *stream.Registry {
	return e.sessions
}

// RunOptions adjusts a single execution. Zero values fall back to the
// agent's definition and the engine defaults.
type RunOptions struct {
	// Model overrides the agent's default model ("provider/id" or bare id).
	Model string

	// MaxTurns overrides the engine's turn cap when positive.
	MaxTurns int

	// SessionID routes events to a registered session sink. The engine
	// closes the session when the invocation finishes, so one session
	// carries exactly one invocation's event stream.
	SessionID string
}

// Session is the handle returned by ExecuteStreaming.
type Session struct {
	// ID is the streaming session id.
	ID string

	// RunID is the run the session observes.
	RunID string

	// Events delivers the run's events and is closed at end-of-stream. Nil
	// when the caller pre-registered its own sink under the session id.
	Events <-chan models.Event
}

// resolution is everything the loop needs once the agent and model are
// looked up: the definitions, the adapter, and the effective limits.
type resolution struct {
	agent    *models.Agent
	provider Provider
	model    models.ModelInfo
	modelID  string
	maxTurns int
}

// Execute runs an agent to completion and returns the run id. The run id is
// returned even when the run fails after creation, so callers can inspect
// the partial trace.
func (e *Engine) Execute(ctx context.Context, agentID, userMessage string, opts RunOptions) (string, error) {
	res, err := e.resolve(agentID, userMessage, opts)
	if err != nil {
		return "", err
	}
	run, err := e.createRun(ctx, res)
	if err != nil {
		return "", err
	}
	return run.ID, e.drive(ctx, run, res, nil, userMessage, strings.TrimSpace(opts.SessionID))
}

// ExecuteStreaming starts a run and returns immediately. The loop runs in a
// background goroutine; progress is observable only through the session. A
// consumer that stops reading or closes its session does not interrupt the
// run, which continues to completion and full trace persistence.
func (e *Engine) ExecuteStreaming(ctx context.Context, agentID, userMessage string, opts RunOptions) (*Session, error) {
	res, err := e.resolve(agentID, userMessage, opts)
	if err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	var events <-chan models.Event
	if _, ok := e.sessions.Get(sessionID); !ok {
		sink := stream.NewChannelSink(sessionBuffer)
		if err := e.sessions.Open(sessionID, sink); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		events = sink.Events()
	}

	run, err := e.createRun(ctx, res)
	if err != nil {
		e.sessions.Close(sessionID)
		return nil, err
	}

	// The caller's context ends with the request that started the run, not
	// with the run itself.
	bg := context.WithoutCancel(ctx)
	go func() {
		_ = e.drive(bg, run, res, nil, userMessage, sessionID)
	}()

	return &Session{ID: sessionID, RunID: run.ID, Events: events}, nil
}

// ContinueConversation resumes a finished run with a new user message. The
// persisted turns are replayed into the conversation buffer and the loop
// picks up on the same run, appending turns after the existing ones. A run
// that is still executing cannot be continued; the store's resume guard
// reports trace.ErrRunActive.
func (e *Engine) ContinueConversation(ctx context.Context, runID, userMessage string, opts RunOptions) error {
	if strings.TrimSpace(runID) == "" {
		return NewValidationError("run id", "must not be empty")
	}
	if strings.TrimSpace(userMessage) == "" {
		return NewValidationError("message", "must not be empty")
	}

	run, err := e.store.GetRun(ctx, runID)
	if errors.Is(err, trace.ErrNotFound) {
		return NewNotFoundError("run", runID)
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	if opts.Model == "" {
		// Keep the model the run was recorded with, not the agent's
		// current default.
		opts.Model = run.ModelID
	}
	res, err := e.resolve(run.AgentID, userMessage, opts)
	if err != nil {
		return err
	}

	if err := e.store.ResumeRun(ctx, runID); err != nil {
		return fmt.Errorf("resume run %s: %w", runID, err)
	}

	return e.drive(ctx, run, res, replayMessages(run), userMessage, strings.TrimSpace(opts.SessionID))
}

// resolve validates input and looks up the agent, model and provider.
// Failures here happen before any run exists.
func (e *Engine) resolve(agentID, userMessage string, opts RunOptions) (*resolution, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, NewValidationError("agent id", "must not be empty")
	}
	if strings.TrimSpace(userMessage) == "" {
		return nil, NewValidationError("message", "must not be empty")
	}
	if opts.MaxTurns < 0 {
		return nil, NewValidationError("max turns", "must not be negative")
	}

	agent, err := e.agents.Get(agentID)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			return nil, NewNotFoundError("agent", agentID)
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}

	modelID := strings.TrimSpace(opts.Model)
	if modelID == "" {
		modelID = strings.TrimSpace(agent.Model)
	}
	if modelID == "" {
		return nil, NewValidationError("model", "agent defines no model and no override was given")
	}
	info, err := e.catalog.Resolve(modelID)
	if err != nil {
		return nil, NewNotFoundError("model", modelID)
	}
	provider, ok := e.providers[info.Provider]
	if !ok {
		return nil, NewNotFoundError("provider", info.Provider)
	}

	maxTurns := e.maxTurns
	if opts.MaxTurns > 0 {
		maxTurns = opts.MaxTurns
	}

	return &resolution{
		agent:    agent,
		provider: provider,
		model:    info,
		modelID:  info.Provider + "/" + info.ID,
		maxTurns: maxTurns,
	}, nil
}

func (e *Engine) createRun(ctx context.Context, res *resolution) (*models.Run, error) {
	run := &models.Run{
		AgentID:  res.agent.ID,
		ModelID:  res.modelID,
		Settings: res.agent.Generation,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// drive owns one invocation end to end: it builds the buffer, runs the
// loop, finalizes the run status, emits the terminal event, closes the
// session and triggers post-run memory extraction.
func (e *Engine) drive(ctx context.Context, run *models.Run, res *resolution, history []models.Message, userMessage, sessionID string) error {
	ctx = observability.WithRunID(ctx, run.ID)
	ctx = observability.WithAgentID(ctx, res.agent.ID)
	emit := func(models.Event) {}
	if sessionID != "" {
		ctx = observability.WithSessionID(ctx, sessionID)
		emit = func(ev models.Event) { e.sessions.Send(sessionID, ev) }
		defer e.sessions.Close(sessionID)
		emit(models.NewRunCreatedEvent(run.ID))
	}

	ctx, span := e.tracer.TraceRun(ctx, res.agent.ID, run.ID)
	defer span.End()

	start := time.Now()
	e.logger.Info(ctx, "run started",
		"agent", res.agent.ID,
		"model", res.modelID,
		"max_turns", res.maxTurns,
		"continuation", len(history) > 0,
	)

	buffer := e.buildBuffer(ctx, res, history, userMessage)
	// Prior turn count approximated as half the replayed message count.
	// Tool-heavy histories overshoot, leaving a numbering gap; ordering
	// stays strictly increasing either way.
	baseTurn := len(history) / 2

	final, usage, loopErr := e.loop(ctx, run, res, buffer, userMessage, baseTurn, emit)

	if loopErr != nil {
		e.tracer.RecordError(span, loopErr)
		if e.metrics != nil {
			e.metrics.RunFinished(res.agent.ID, string(models.RunStatusError), time.Since(start).Seconds())
		}
		if err := e.store.UpdateRunStatus(ctx, run.ID, models.RunStatusError, loopErr.Error()); err != nil {
			e.logger.Error(ctx, "failed to record run error", "error", err, "cause", loopErr)
		}
		e.logger.Error(ctx, "run failed", "agent", res.agent.ID, "error", loopErr)
		emit(models.NewErrorEvent(run.ID, loopErr.Error()))
		return loopErr
	}

	if err := e.store.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted, ""); err != nil {
		err = fmt.Errorf("complete run: %w", err)
		e.tracer.RecordError(span, err)
		emit(models.NewErrorEvent(run.ID, err.Error()))
		return err
	}
	if e.metrics != nil {
		e.metrics.RunFinished(res.agent.ID, string(models.RunStatusCompleted), time.Since(start).Seconds())
	}
	e.logger.Info(ctx, "run completed",
		"agent", res.agent.ID,
		"total_tokens", usage.Total(),
		"duration", time.Since(start),
	)
	emit(models.NewDoneEvent(run.ID, usage))

	e.extractMemory(ctx, res, final)
	return nil
}

// loop is the reason/act cycle. It returns the final buffer, the usage
// accumulated across this invocation's turns, and the fatal error if any.
// Hitting the turn limit is not an error: the run completes with whatever
// was produced and a warning is logged.
func (e *Engine) loop(ctx context.Context, run *models.Run, res *resolution, buffer []models.Message, userMessage string, baseTurn int, emit func(models.Event)) ([]models.Message, models.Usage, error) {
	var total models.Usage

	for i := 0; i < res.maxTurns; i++ {
		turnNumber := baseTurn + i + 1
		turnStart := time.Now()

		resp, err := e.callModel(ctx, res, buffer, run.ID, emit)
		if err != nil {
			return buffer, total, fmt.Errorf("model call failed: %w", err)
		}

		total.Add(resp.Usage)
		if e.metrics != nil {
			e.metrics.TurnExecuted(res.agent.ID)
		}
		e.catalog.RecordSpeed(res.modelID, resp.Usage.OutputTokens, time.Since(turnStart))

		buffer = append(buffer, models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			CreatedAt: time.Now(),
		})

		turn := &models.Turn{
			RunID:           run.ID,
			TurnNumber:      turnNumber,
			AssistantOutput: resp.Content,
			Usage:           resp.Usage,
			StartedAt:       turnStart,
		}
		if i == 0 {
			turn.UserInput = userMessage
		}

		buffer, err = e.dispatchTools(ctx, run, res, turn, resp.ToolCalls, buffer, emit)
		if err != nil {
			turn.Duration = time.Since(turnStart)
			if aerr := e.store.AppendTurn(ctx, run.ID, turn); aerr != nil {
				e.logger.Warn(ctx, "failed to persist final turn of failing run", "error", aerr)
			}
			return buffer, total, err
		}

		turn.Duration = time.Since(turnStart)
		if err := e.store.AppendTurn(ctx, run.ID, turn); err != nil {
			return buffer, total, fmt.Errorf("append turn %d: %w", turnNumber, err)
		}

		if len(resp.ToolCalls) == 0 {
			return buffer, total, nil
		}
	}

	// Deliberate policy: exhausting the turn budget completes the run.
	e.logger.Warn(ctx, "turn limit reached before final answer",
		"agent", res.agent.ID,
		"max_turns", res.maxTurns,
	)
	return buffer, total, nil
}

// dispatchTools executes the turn's tool calls in order. Each execution is
// logged to the trace store as it completes, before the turn itself is
// final. Tool failures flow back to the model as observations; only an
// allowlist violation or a store failure aborts.
func (e *Engine) dispatchTools(ctx context.Context, run *models.Run, res *resolution, turn *models.Turn, calls []models.ToolCall, buffer []models.Message, emit func(models.Event)) ([]models.Message, error) {
	for _, call := range calls {
		if !res.agent.AllowsTool(call.Name) {
			if e.metrics != nil {
				e.metrics.RecordError("engine", "unauthorized_tool")
			}
			return buffer, &UnauthorizedToolError{AgentID: res.agent.ID, Tool: call.Name}
		}

		emit(models.NewToolCallEvent(run.ID, call))

		toolCtx, toolSpan := e.tracer.TraceToolExecution(ctx, call.Name)
		execStart := time.Now()
		outcome := e.tools.Execute(toolCtx, call.Name, call.Params)
		execDuration := time.Since(execStart)
		if !outcome.Success {
			e.tracer.RecordError(toolSpan, errors.New(outcome.Error))
		}
		toolSpan.End()

		exec := &models.ToolExecution{
			TurnNumber: turn.TurnNumber,
			RunID:      run.ID,
			ToolName:   call.Name,
			Params:     call.Params,
			Result:     *outcome,
			Duration:   execDuration,
		}
		if err := e.store.LogToolExecution(ctx, run.ID, exec); err != nil {
			return buffer, fmt.Errorf("log tool execution: %w", err)
		}

		emit(models.NewToolResultEvent(run.ID, call.ID, call.Name, *outcome))
		buffer = append(buffer, models.ToolMessage(call.ID, observationText(outcome)))
	}
	return buffer, nil
}

// callModel performs one model request, streaming when a session is live
// and the provider supports it. Either way the caller receives the full
// accumulated response.
func (e *Engine) callModel(ctx context.Context, res *resolution, buffer []models.Message, runID string, emit func(models.Event)) (*Response, error) {
	req := e.buildRequest(res, buffer)

	mctx, span := e.tracer.TraceModelRequest(ctx, res.model.Provider, res.model.ID)
	defer span.End()
	start := time.Now()

	var resp *Response
	var err error
	if res.provider.Capabilities().SupportsStreaming {
		resp, err = e.consumeStream(mctx, res.provider, req, runID, emit)
	} else {
		resp, err = res.provider.Generate(mctx, req)
		if err == nil && resp.Content != "" {
			emit(models.NewContentEvent(runID, resp.Content))
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		e.tracer.RecordError(span, err)
	}
	if e.metrics != nil {
		var in, out int
		if resp != nil {
			in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
		}
		e.metrics.RecordModelRequest(res.model.Provider, res.model.ID, status, time.Since(start).Seconds(), in, out)
	}
	return resp, err
}

// consumeStream drains a provider stream into a Response, forwarding text
// deltas to the session as they arrive.
func (e *Engine) consumeStream(ctx context.Context, provider Provider, req *Request, runID string, emit func(models.Event)) (*Response, error) {
	chunks, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{}
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		switch {
		case chunk.Error != nil:
			return nil, chunk.Error
		case chunk.ToolCall != nil:
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		case chunk.Text != "":
			resp.Content += chunk.Text
			emit(models.NewContentEvent(runID, chunk.Text))
		}
		// Usage may arrive incrementally; keep the latest non-zero values.
		if chunk.InputTokens > 0 {
			resp.Usage.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			resp.Usage.OutputTokens = chunk.OutputTokens
		}
	}
	return resp, nil
}

// buildRequest assembles the provider request: system prompt, buffer, the
// tool definitions the allowlist resolves to, and the agent's sampling
// settings.
func (e *Engine) buildRequest(res *resolution, buffer []models.Message) *Request {
	available := e.tools.ListByNames(res.agent.Tools)
	defs := make([]ToolDefinition, 0, len(available))
	for _, t := range available {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return &Request{
		Model:       res.model.ID,
		System:      res.agent.SystemPrompt,
		Messages:    buffer,
		Tools:       defs,
		MaxTokens:   res.agent.Generation.MaxTokens,
		Temperature: res.agent.Generation.Temperature,
		TopP:        res.agent.Generation.TopP,
	}
}

// buildBuffer assembles the conversation sent to the model: structured
// memory first, replayed history next, the new user message last. History
// that exceeds the agent's window is compressed before the new message is
// appended.
func (e *Engine) buildBuffer(ctx context.Context, res *resolution, history []models.Message, userMessage string) []models.Message {
	var buffer []models.Message

	if res.agent.StructuredMemory && e.memories != nil {
		doc, err := e.memories.Load(res.agent.ID)
		if err != nil {
			e.logger.Warn(ctx, "failed to load memory document", "agent", res.agent.ID, "error", err)
		} else if !doc.Empty() {
			buffer = append(buffer, models.SystemMessage(doc.Render()))
		}
	}

	buffer = append(buffer, history...)
	if res.agent.MessageWindow > 0 && len(buffer) >= res.agent.MessageWindow {
		buffer = memory.CompressMessages(ctx, buffer, res.agent.MessageWindow, e.summarizer(res))
	}

	return append(buffer, models.UserMessage(userMessage))
}

// summarizer adapts the run's own provider to the windowing service, so
// summaries come from the same model that holds the conversation.
func (e *Engine) summarizer(res *resolution) memory.Summarizer {
	return memory.SummarizerFunc(func(ctx context.Context, msgs []models.Message) (string, error) {
		temp := e.summaryTemp
		resp, err := res.provider.Generate(ctx, &Request{
			Model:       res.model.ID,
			Messages:    []models.Message{models.UserMessage(memory.SummaryPrompt(memory.FormatTranscript(msgs)))},
			Temperature: &temp,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

// extractMemory regenerates the agent's structured memory document from the
// finished conversation. Best effort: every failure is logged and swallowed,
// the owning run has already completed.
func (e *Engine) extractMemory(ctx context.Context, res *resolution, buffer []models.Message) {
	if !res.agent.StructuredMemory || e.memories == nil {
		return
	}

	temp := e.summaryTemp
	resp, err := res.provider.Generate(ctx, &Request{
		Model:       res.model.ID,
		Messages:    []models.Message{models.UserMessage(memory.ExtractionPrompt(memory.FormatTranscript(buffer)))},
		Temperature: &temp,
	})
	if err != nil {
		e.logger.Warn(ctx, "memory extraction failed", "agent", res.agent.ID, "error", err)
		return
	}
	doc, err := memory.ParseDocument(resp.Content)
	if err != nil {
		e.logger.Warn(ctx, "memory extraction returned unparsable document", "agent", res.agent.ID, "error", err)
		return
	}
	if err := e.memories.Save(res.agent.ID, doc); err != nil {
		e.logger.Warn(ctx, "failed to save memory document", "agent", res.agent.ID, "error", err)
		return
	}
	e.logger.Debug(ctx, "memory document updated", "agent", res.agent.ID, "facts", len(doc.Facts))
}

// replayMessages rebuilds the conversation buffer from persisted turns. The
// stored execution ids stand in for the original tool-call ids, linking each
// rebuilt assistant call to its observation.
func replayMessages(run *models.Run) []models.Message {
	var msgs []models.Message
	for _, turn := range run.Turns {
		if turn.UserInput != "" {
			msgs = append(msgs, models.Message{
				Role:      models.RoleUser,
				Content:   turn.UserInput,
				CreatedAt: turn.StartedAt,
			})
		}

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   turn.AssistantOutput,
			CreatedAt: turn.StartedAt,
		}
		for _, exec := range turn.Executions {
			assistant.ToolCalls = append(assistant.ToolCalls, models.ToolCall{
				ID:     exec.ID,
				Name:   exec.ToolName,
				Params: exec.Params,
			})
		}
		msgs = append(msgs, assistant)

		for _, exec := range turn.Executions {
			result := exec.Result
			msgs = append(msgs, models.ToolMessage(exec.ID, observationText(&result)))
		}
	}
	return msgs
}

// observationText renders a tool outcome as the observation text the model
// sees in the tool-role message.
func observationText(outcome *models.ToolOutcome) string {
	if !outcome.Success {
		return "Error: " + outcome.Error
	}
	if outcome.Output != "" {
		return outcome.Output
	}
	if len(outcome.Data) > 0 {
		return string(outcome.Data)
	}
	return "(no output)"
}
