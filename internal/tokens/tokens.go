// Package tokens provides token counting for context-window budgeting and
// request sizing. Counting uses tiktoken encodings when available and falls
// back to a character heuristic when an encoding cannot be loaded.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/loom/pkg/models"
)

// defaultEncoding is used for models tiktoken does not recognize. cl100k_base
// is close enough for budgeting across current chat models.
const defaultEncoding = "cl100k_base"

const (
	// tokensPerMessage is the per-message framing overhead in chat formats.
	tokensPerMessage = 3

	// replyPrimingTokens accounts for the assistant reply priming.
	replyPrimingTokens = 3
)

var (
	encodingsMu sync.RWMutex
	encodings   = map[string]*tiktoken.Tiktoken{}
)

// encodingFor returns a cached encoding for the model, or nil when no
// encoding could be loaded.
func encodingFor(model string) *tiktoken.Tiktoken {
	encodingsMu.RLock()
	enc, ok := encodings[model]
	encodingsMu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			enc = nil
		}
	}

	encodingsMu.Lock()
	encodings[model] = enc
	encodingsMu.Unlock()
	return enc
}

// Count returns the number of tokens in text under the model's encoding.
func Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := encodingFor(model)
	if enc == nil {
		return Estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages approximates the prompt size of a conversation, including
// per-message framing overhead, tool call names and arguments, and the
// reply priming tokens.
func CountMessages(model string, msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += tokensPerMessage
		total += Count(model, string(m.Role))
		total += Count(model, m.Content)
		for _, tc := range m.ToolCalls {
			total += Count(model, tc.Name)
			total += Count(model, string(tc.Params))
		}
	}
	return total + replyPrimingTokens
}

// Estimate is the ~4 characters per token heuristic. Used when no encoding
// is available and cheap enough for hot paths that only need a rough size.
func Estimate(text string) int {
	return len(text) / 4
}
