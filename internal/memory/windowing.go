// Package memory bounds conversation context. It compresses older message
// history into model-generated summaries and maintains one persisted
// structured-memory document per agent, injected as leading system context
// on later runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/loom/pkg/models"
)

// maxTranscriptBytes caps the transcript text handed to a model call.
const maxTranscriptBytes = 16000

// Summarizer produces a short summary of a conversation segment. The engine
// adapts the run's own provider to this, so summaries come from the same
// model that holds the conversation.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, messages []models.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return f(ctx, messages)
}

// CompressMessages collapses older history into summary messages when the
// buffer exceeds windowSize. Messages are partitioned into windowSize-sized
// chunks; every chunk except the last is replaced by a single system-role
// summary, and the last chunk is kept verbatim.
//
// Compression is best effort: when a chunk's summarization fails (or returns
// nothing), that chunk's original messages are kept unmodified. The input is
// returned unchanged when it fits the window, when windowSize is not
// positive, or when no summarizer is available.
func CompressMessages(ctx context.Context, msgs []models.Message, windowSize int, s Summarizer) []models.Message {
	if windowSize <= 0 || len(msgs) <= windowSize || s == nil {
		return msgs
	}

	out := make([]models.Message, 0, len(msgs))
	for start := 0; start < len(msgs); start += windowSize {
		end := start + windowSize
		if end >= len(msgs) {
			// Last chunk stays verbatim.
			out = append(out, msgs[start:]...)
			break
		}

		chunk := msgs[start:end]
		summary, err := s.Summarize(ctx, chunk)
		if err != nil || strings.TrimSpace(summary) == "" {
			out = append(out, chunk...)
			continue
		}
		out = append(out, models.Message{
			Role:      models.RoleSystem,
			Content:   "Summary of earlier conversation:\n" + strings.TrimSpace(summary),
			CreatedAt: time.Now(),
		})
	}
	return out
}

// SummaryPrompt returns the instruction for compressing one conversation
// segment. Callers run it at low temperature.
func SummaryPrompt(transcript string) string {
	return "Summarize this conversation segment in a few sentences. " +
		"Preserve decisions, facts, names and unresolved questions. " +
		"Reply with only the summary.\n\n" + transcript
}

// FormatTranscript renders messages as readable text for a summarization or
// extraction call, truncated at maxTranscriptBytes.
func FormatTranscript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("[" + string(m.Role) + "]: ")
		b.WriteString(m.Content)
		for _, call := range m.ToolCalls {
			fmt.Fprintf(&b, "\n  [tool call %s: %s]", call.Name, truncate(string(call.Params), 200))
		}
		b.WriteString("\n\n")
		if b.Len() > maxTranscriptBytes {
			b.WriteString("... (truncated)\n")
			break
		}
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
