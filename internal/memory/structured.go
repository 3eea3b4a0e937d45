package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Document is the persisted structured memory for one agent: durable facts
// plus the current conversation topic. It is regenerated opportunistically
// after runs by an extraction model call and survives across conversations.
type Document struct {
	Facts     []string  `json:"facts"`
	Topic     string    `json:"topic"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether the document carries nothing worth injecting.
func (d *Document) Empty() bool {
	return d == nil || (len(d.Facts) == 0 && d.Topic == "")
}

// Render formats the document as the content of a leading system message.
func (d *Document) Render() string {
	var b strings.Builder
	b.WriteString("Memory from previous conversations:\n")
	for _, fact := range d.Facts {
		b.WriteString("- " + fact + "\n")
	}
	if d.Topic != "" {
		b.WriteString("Current topic: " + d.Topic + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExtractionPrompt returns the instruction for regenerating an agent's
// memory document from a conversation transcript.
func ExtractionPrompt(transcript string) string {
	return `Extract durable memory from this conversation. Reply with only JSON:
{"facts": ["..."], "topic": "..."}
facts: stable facts about the user or the task worth keeping across conversations.
topic: one line describing what the conversation is currently about.

` + transcript
}

// ParseDocument parses a model's extraction response into a Document,
// tolerating markdown code fences around the JSON.
func ParseDocument(raw string) (*Document, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse memory document: %w", err)
	}
	doc.UpdatedAt = time.Now()
	return &doc, nil
}

// FileStore persists one JSON document per agent under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("memory dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(agentID string) (string, error) {
	if agentID == "" || strings.ContainsAny(agentID, `/\`) {
		return "", fmt.Errorf("invalid agent id %q", agentID)
	}
	return filepath.Join(s.dir, agentID+".json"), nil
}

// Load returns the stored document for an agent, or nil when none exists.
func (s *FileStore) Load(agentID string) (*Document, error) {
	path, err := s.path(agentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse memory document: %w", err)
	}
	return &doc, nil
}

// Save writes the document atomically (write to a temp file, then rename).
func (s *FileStore) Save(agentID string, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	path, err := s.path(agentID)
	if err != nil {
		return err
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write memory document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write memory document: %w", err)
	}
	return nil
}

// Delete removes an agent's document. Deleting a missing document is a no-op.
func (s *FileStore) Delete(agentID string) error {
	path, err := s.path(agentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete memory document: %w", err)
	}
	return nil
}
