package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

type fakeTool struct {
	name    string
	schema  json.RawMessage
	execute func(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error)
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "fake tool for tests" }
func (f *fakeTool) Schema() json.RawMessage { return f.schema }

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return &models.ToolOutcome{Success: true, Output: "ok"}, nil
}

func newFake(name string) *fakeTool {
	return &fakeTool{name: name, schema: json.RawMessage(`{"type": "object"}`)}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})

	if err := reg.Register(newFake("alpha")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, ok := reg.Get("alpha"); !ok {
		t.Error("Get(alpha) not found after Register")
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})

	if err := reg.Register(newFake("alpha")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := reg.Register(newFake("alpha"))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Register() error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegistry_RegisterEmptyName(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Register(newFake("  ")); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Register() error = %v, want ErrEmptyName", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Register(newFake("alpha")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	reg.Unregister("alpha")
	if _, ok := reg.Get("alpha"); ok {
		t.Error("Get(alpha) found after Unregister")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	for _, name := range []string{"gamma", "alpha", "beta"} {
		if err := reg.Register(newFake(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d tools, want 3", len(list))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if list[i].Name() != want {
			t.Errorf("List()[%d] = %q, want %q", i, list[i].Name(), want)
		}
	}
}

func TestRegistry_ListByNamesFiltersUnknown(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	if err := reg.Register(newFake("alpha")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(newFake("beta")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	list := reg.ListByNames([]string{"beta", "missing", "alpha"})
	if len(list) != 2 {
		t.Fatalf("ListByNames() returned %d tools, want 2", len(list))
	}
	if list[0].Name() != "beta" || list[1].Name() != "alpha" {
		t.Errorf("ListByNames() order = [%s %s], want [beta alpha]", list[0].Name(), list[1].Name())
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})

	outcome := reg.Execute(context.Background(), "missing", nil)
	if outcome.Success {
		t.Error("Execute(missing) succeeded")
	}
	if !strings.Contains(outcome.Error, "tool not found") {
		t.Errorf("Error = %q, want tool not found", outcome.Error)
	}
}

func TestRegistry_ExecuteValidatesParams(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	tool := &fakeTool{
		name: "strict",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome := reg.Execute(context.Background(), "strict", json.RawMessage(`{}`))
	if outcome.Success {
		t.Error("Execute() with missing required param succeeded")
	}
	if !strings.Contains(outcome.Error, "invalid parameters") {
		t.Errorf("Error = %q, want invalid parameters", outcome.Error)
	}

	outcome = reg.Execute(context.Background(), "strict", json.RawMessage(`{"text": "hi"}`))
	if !outcome.Success {
		t.Errorf("Execute() with valid params failed: %s", outcome.Error)
	}
}

func TestRegistry_ExecuteEmptyParamsAsObject(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	var got json.RawMessage
	tool := &fakeTool{
		name:   "open",
		schema: json.RawMessage(`{"type": "object"}`),
		execute: func(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
			got = params
			return &models.ToolOutcome{Success: true}, nil
		},
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome := reg.Execute(context.Background(), "open", nil)
	if !outcome.Success {
		t.Fatalf("Execute() with nil params failed: %s", outcome.Error)
	}
	if len(got) != 0 {
		t.Errorf("tool received params %s, want none", got)
	}
}

func TestRegistry_ExecuteFoldsToolError(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	tool := newFake("failing")
	tool.execute = func(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
		return nil, errors.New("backend unavailable")
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome := reg.Execute(context.Background(), "failing", nil)
	if outcome.Success {
		t.Error("Execute() succeeded for erroring tool")
	}
	if !strings.Contains(outcome.Error, "backend unavailable") {
		t.Errorf("Error = %q, want backend unavailable", outcome.Error)
	}
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	tool := newFake("panicky")
	tool.execute = func(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
		panic("boom")
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome := reg.Execute(context.Background(), "panicky", nil)
	if outcome.Success {
		t.Error("Execute() succeeded for panicking tool")
	}
	if !strings.Contains(outcome.Error, "panic: boom") {
		t.Errorf("Error = %q, want panic: boom", outcome.Error)
	}
}

func TestRegistry_ExecuteTimeout(t *testing.T) {
	reg := NewRegistry(RegistryOptions{Timeout: 20 * time.Millisecond})
	tool := newFake("slow")
	tool.execute = func(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
		select {
		case <-time.After(5 * time.Second):
			return &models.ToolOutcome{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome := reg.Execute(context.Background(), "slow", nil)
	if outcome.Success {
		t.Error("Execute() succeeded for slow tool")
	}
	if !strings.Contains(outcome.Error, "timed out") {
		t.Errorf("Error = %q, want timed out", outcome.Error)
	}
}

func TestRegistry_ExecuteNilOutcome(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	tool := newFake("empty")
	tool.execute = func(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
		return nil, nil
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	outcome := reg.Execute(context.Background(), "empty", nil)
	if outcome.Success {
		t.Error("Execute() succeeded with nil outcome")
	}
}
