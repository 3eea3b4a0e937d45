// Package builtin provides small deterministic tools used by the CLI demo
// agents and the test suite.
package builtin

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/pkg/models"
)

type echoParams struct {
	Text string `json:"text" jsonschema:"required,description=Text to return unchanged"`
}

// Echo returns its input text unchanged.
type Echo struct{}

func (Echo) Name() string        { return "echo" }
func (Echo) Description() string { return "Returns the provided text unchanged" }

func (Echo) Schema() json.RawMessage {
	return tools.MustSchema(&echoParams{})
}

func (Echo) Execute(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
	var input echoParams
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, err
	}
	return &models.ToolOutcome{Success: true, Output: input.Text}, nil
}
