package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/pkg/models"
)

func TestNewOllamaProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  OllamaConfig
		wantURL string
	}{
		{
			name:    "default base URL",
			config:  OllamaConfig{},
			wantURL: "http://localhost:11434",
		},
		{
			name:    "trailing slash trimmed",
			config:  OllamaConfig{BaseURL: "http://ollama.local:11434/"},
			wantURL: "http://ollama.local:11434",
		},
		{
			name:    "whitespace trimmed",
			config:  OllamaConfig{BaseURL: "  http://ollama.local:11434  "},
			wantURL: "http://ollama.local:11434",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewOllamaProvider(tt.config)
			if provider.baseURL != tt.wantURL {
				t.Errorf("baseURL = %q, want %q", provider.baseURL, tt.wantURL)
			}
			if provider.Name() != "ollama" {
				t.Errorf("name = %q, want ollama", provider.Name())
			}
		})
	}
}

func TestOllamaModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"name":"llama3.2"},{"name":"qwen2.5-coder"},{"name":"  "}]}`)
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})

	catalog, err := provider.Models(context.Background())
	if err != nil {
		t.Fatalf("Models() error: %v", err)
	}
	// Blank names are dropped.
	if len(catalog) != 2 {
		t.Fatalf("expected 2 models, got %d", len(catalog))
	}
	if catalog[0].ID != "llama3.2" {
		t.Errorf("first model = %q", catalog[0].ID)
	}
	for _, m := range catalog {
		if m.Provider != "ollama" {
			t.Errorf("model %s has provider %q", m.ID, m.Provider)
		}
		if m.HasPricing() {
			t.Errorf("local model %s should not carry pricing", m.ID)
		}
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer healthy.Close()

	if err := NewOllamaProvider(OllamaConfig{BaseURL: healthy.URL}).HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	if err := NewOllamaProvider(OllamaConfig{BaseURL: broken.URL}).HealthCheck(context.Background()); err == nil {
		t.Error("expected error from failing server")
	}
}

func TestOllamaStream(t *testing.T) {
	var gotReq ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		// The third and fourth lines re-send the same tool call, which some
		// Ollama builds do on every frame.
		lines := []string{
			`{"message":{"role":"assistant","content":"Hi"},"done":false}`,
			`{"message":{"role":"assistant","content":" there"},"done":false}`,
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Oslo"}}}]},"done":false}`,
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Oslo"}}}]},"done":false}`,
			`{"done":true,"prompt_eval_count":21,"eval_count":9}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL, DefaultModel: "llama3.2"})

	temp := 0.2
	chunks, err := provider.Stream(context.Background(), &agent.Request{
		System:      "Be brief.",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "weather in Oslo?"}},
		Temperature: &temp,
		MaxTokens:   256,
		Tools: []agent.ToolDefinition{
			{Name: "get_weather", Description: "Get weather", Schema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	text, toolCalls, usage, done, streamErr := drainChunks(t, chunks)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if text != "Hi there" {
		t.Errorf("text = %q, want %q", text, "Hi there")
	}
	if len(toolCalls) != 1 {
		t.Fatalf("duplicate frames must be deduplicated, got %d tool calls", len(toolCalls))
	}
	if toolCalls[0].Name != "get_weather" {
		t.Errorf("tool name = %q", toolCalls[0].Name)
	}
	if toolCalls[0].ID == "" {
		t.Error("tool call should get a synthesized ID")
	}
	if string(toolCalls[0].Params) != `{"city":"Oslo"}` {
		t.Errorf("params = %s", toolCalls[0].Params)
	}
	if usage.InputTokens != 21 || usage.OutputTokens != 9 {
		t.Errorf("usage = %+v, want 21/9", usage)
	}
	if !done {
		t.Error("expected Done chunk")
	}

	// Request payload shape.
	if gotReq.Model != "llama3.2" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if !gotReq.Stream {
		t.Error("request should set stream")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system first", gotReq.Messages)
	}
	if len(gotReq.Tools) != 1 {
		t.Errorf("tools = %d, want 1", len(gotReq.Tools))
	}
	if gotReq.Options["num_predict"] != float64(256) {
		t.Errorf("num_predict = %v, want 256", gotReq.Options["num_predict"])
	}
}

func TestOllamaStreamRequiresModel(t *testing.T) {
	provider := NewOllamaProvider(OllamaConfig{})

	_, err := provider.Stream(context.Background(), &agent.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error when no model is set")
	}
	if !IsProviderError(err) {
		t.Errorf("expected ProviderError, got %T", err)
	}
}

func TestOllamaStreamServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"missing\" not found"}`)
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL, DefaultModel: "missing"})

	_, err := provider.Stream(context.Background(), &agent.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected setup error")
	}
	providerErr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", providerErr.Status)
	}
	if providerErr.Reason != ReasonModelUnavailable {
		t.Errorf("reason = %v, want %v", providerErr.Reason, ReasonModelUnavailable)
	}
}

func TestOllamaStreamInlineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"runner crashed"}`)
	}))
	defer server.Close()

	provider := NewOllamaProvider(OllamaConfig{BaseURL: server.URL, DefaultModel: "llama3.2"})

	chunks, err := provider.Stream(context.Background(), &agent.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream() setup error: %v", err)
	}

	text, _, _, _, streamErr := drainChunks(t, chunks)
	if text != "partial" {
		t.Errorf("text = %q, want partial content before the error", text)
	}
	if streamErr == nil {
		t.Fatal("expected in-band error chunk")
	}
}

func TestBuildOllamaMessages(t *testing.T) {
	req := &agent.Request{
		System: "Be brief.",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "check the weather"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call_7", Name: "get_weather", Params: nil},
				},
			},
			{Role: models.RoleTool, ToolCallID: "call_7", Content: "sunny"},
			{Role: "", Content: "roleless"},
		},
	}

	result := buildOllamaMessages(req)
	if len(result) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(result))
	}

	if result[0].Role != "system" || result[0].Content != "Be brief." {
		t.Errorf("system message = %+v", result[0])
	}

	assistant := result[2]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %d", len(assistant.ToolCalls))
	}
	if assistant.ToolCalls[0].Type != "function" {
		t.Errorf("tool call type = %q", assistant.ToolCalls[0].Type)
	}
	// Empty params serialize as an empty object.
	if string(assistant.ToolCalls[0].Function.Arguments) != "{}" {
		t.Errorf("arguments = %s, want {}", assistant.ToolCalls[0].Function.Arguments)
	}

	// Ollama does not echo the function name back; it is recovered from the
	// originating call ID.
	observation := result[3]
	if observation.Role != "tool" || observation.ToolName != "get_weather" {
		t.Errorf("observation = %+v, want tool/get_weather", observation)
	}

	if result[4].Role != "user" {
		t.Errorf("empty role should default to user, got %q", result[4].Role)
	}
}

func TestToolCallKey(t *testing.T) {
	tests := []struct {
		name string
		tc   ollamaToolCall
		want string
	}{
		{
			name: "ID takes priority",
			tc:   ollamaToolCall{ID: " call_1 ", Function: ollamaToolFunction{Name: "x"}},
			want: "call_1",
		},
		{
			name: "name and args",
			tc:   ollamaToolCall{Function: ollamaToolFunction{Name: "get_weather", Arguments: json.RawMessage(`{"city":"Oslo"}`)}},
			want: `get_weather:{"city":"Oslo"}`,
		},
		{
			name: "empty call",
			tc:   ollamaToolCall{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolCallKey(tt.tc); got != tt.want {
				t.Errorf("toolCallKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
