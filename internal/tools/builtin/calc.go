package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/pkg/models"
)

type calcParams struct {
	A  float64 `json:"a" jsonschema:"required,description=Left operand"`
	Op string  `json:"op" jsonschema:"required,enum=+,enum=-,enum=*,enum=/,description=Operator"`
	B  float64 `json:"b" jsonschema:"required,description=Right operand"`
}

// Calc performs a single arithmetic operation.
type Calc struct{}

func (Calc) Name() string        { return "calc" }
func (Calc) Description() string { return "Performs basic arithmetic on two numbers" }

func (Calc) Schema() json.RawMessage {
	return tools.MustSchema(&calcParams{})
}

func (Calc) Execute(ctx context.Context, params json.RawMessage) (*models.ToolOutcome, error) {
	var input calcParams
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, err
	}

	var result float64
	switch input.Op {
	case "+":
		result = input.A + input.B
	case "-":
		result = input.A - input.B
	case "*":
		result = input.A * input.B
	case "/":
		if input.B == 0 {
			return &models.ToolOutcome{Success: false, Error: "division by zero"}, nil
		}
		result = input.A / input.B
	default:
		return &models.ToolOutcome{Success: false, Error: fmt.Sprintf("unsupported operator %q", input.Op)}, nil
	}

	return &models.ToolOutcome{Success: true, Output: strconv.FormatFloat(result, 'f', -1, 64)}, nil
}
