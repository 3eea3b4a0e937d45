package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	schemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// MustSchema reflects a JSON Schema from a parameter struct. Tool schemas
// are static, so reflection failures are programmer errors and panic at
// registration time, not at dispatch.
func MustSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema for %T: %v", v, err))
	}
	return data
}

var schemaCache sync.Map

func compileSchema(schema []byte) (*schemav5.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*schemav5.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := schemav5.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateParams checks params against a tool's schema. Empty params are
// treated as an empty object: adapters substitute {} when a provider's
// accumulated arguments fail to parse, and the schema decides whether that
// is acceptable.
func validateParams(schema, params json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("decode tool params: %w", err)
	}
	return compiled.Validate(decoded)
}
