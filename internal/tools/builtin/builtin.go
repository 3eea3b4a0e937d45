package builtin

import "github.com/haasonsaas/loom/internal/tools"

// All returns one instance of every builtin tool, in registration order.
func All() []tools.Tool {
	return []tools.Tool{Echo{}, Calc{}, Clock{}}
}
