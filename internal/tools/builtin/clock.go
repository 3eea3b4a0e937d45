package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/pkg/models"
)

type clockParams struct {
	Format string `json:"format,omitempty" jsonschema:"description=Optional Go time layout; defaults to RFC3339"`
}

// Clock reports the current time.
type Clock struct {
	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (Clock) Name() string        { return "clock" }
func (Clock) Description() string { return "Returns the current date and time" }

func (Clock) Schema() json.RawMessage {
	return tools.MustSchema(&clockParams{})
}

func (c Clock) Execute(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
	var input clockParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, err
		}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	layout := time.RFC3339
	if input.Format != "" {
		layout = input.Format
	}
	return &models.ToolOutcome{Success: true, Output: now().UTC().Format(layout)}, nil
}
