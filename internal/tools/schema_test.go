package tools

import (
	"encoding/json"
	"testing"
)

type sampleParams struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty"`
}

func TestMustSchemaReflectsStruct(t *testing.T) {
	schema := MustSchema(&sampleParams{})

	var decoded struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(schema, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Type != "object" {
		t.Errorf("type = %q, want object", decoded.Type)
	}
	if _, ok := decoded.Properties["query"]; !ok {
		t.Error("properties missing query")
	}
	if _, ok := decoded.Properties["limit"]; !ok {
		t.Error("properties missing limit")
	}
	if len(decoded.Required) != 1 || decoded.Required[0] != "query" {
		t.Errorf("required = %v, want [query]", decoded.Required)
	}
}

func TestValidateParamsAgainstReflectedSchema(t *testing.T) {
	schema := MustSchema(&sampleParams{})

	if err := validateParams(schema, json.RawMessage(`{"query": "weather"}`)); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	if err := validateParams(schema, json.RawMessage(`{}`)); err == nil {
		t.Error("missing required param accepted")
	}
	if err := validateParams(schema, json.RawMessage(`{"query": 42}`)); err == nil {
		t.Error("wrong-typed param accepted")
	}
}

func TestValidateParamsEmptySchema(t *testing.T) {
	if err := validateParams(nil, json.RawMessage(`{"anything": true}`)); err != nil {
		t.Errorf("nil schema rejected params: %v", err)
	}
}

func TestValidateParamsEmptyParams(t *testing.T) {
	schema := json.RawMessage(`{"type": "object"}`)
	if err := validateParams(schema, nil); err != nil {
		t.Errorf("empty params rejected by open schema: %v", err)
	}

	strict := json.RawMessage(`{"type": "object", "required": ["x"]}`)
	if err := validateParams(strict, nil); err == nil {
		t.Error("empty params accepted by schema with required fields")
	}
}

func TestValidateParamsBadJSON(t *testing.T) {
	schema := json.RawMessage(`{"type": "object"}`)
	if err := validateParams(schema, json.RawMessage(`{not json`)); err == nil {
		t.Error("malformed params accepted")
	}
}

func TestCompileSchemaCaches(t *testing.T) {
	schema := []byte(`{"type": "object", "required": ["a"]}`)

	first, err := compileSchema(schema)
	if err != nil {
		t.Fatalf("compileSchema() error = %v", err)
	}
	second, err := compileSchema(schema)
	if err != nil {
		t.Fatalf("compileSchema() error = %v", err)
	}
	if first != second {
		t.Error("expected cached schema instance")
	}
}
