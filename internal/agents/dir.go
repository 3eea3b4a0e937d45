package agents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/loom/pkg/models"
)

const defaultWatchDebounce = 250 * time.Millisecond

// DirRepository stores each agent as a YAML document in a directory. Files
// may be edited by hand; Watch hot-reloads the directory on change. The
// file's basename serves as the agent id when the document omits one.
type DirRepository struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]*models.Agent
	files  map[string]string

	watcher     *fsnotify.Watcher
	watchMu     sync.Mutex
	watchWg     sync.WaitGroup
	watchCancel context.CancelFunc
	debounce    time.Duration
}

// NewDirRepository loads all agent files under dir, creating the directory
// if needed. Any unparseable file fails the initial load; edits after that
// are tolerated and skipped with a warning.
func NewDirRepository(dir string, logger *slog.Logger) (*DirRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("agents directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create agents directory: %w", err)
	}

	r := &DirRepository{
		dir:      dir,
		logger:   logger.With("component", "agents"),
		agents:   make(map[string]*models.Agent),
		files:    make(map[string]string),
		debounce: defaultWatchDebounce,
	}
	if err := r.load(true); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the directory. Files that no longer parse are skipped
// with a warning so a half-saved edit cannot wipe the repository.
func (r *DirRepository) Reload() error {
	return r.load(false)
}

func (r *DirRepository) load(strict bool) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read agents directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make(map[string]*models.Agent)
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isAgentFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		agent, err := loadAgentFile(path)
		if err != nil {
			if strict {
				return fmt.Errorf("load agent %s: %w", entry.Name(), err)
			}
			r.logger.Warn("skipping invalid agent file", "path", path, "error", err)
			continue
		}
		if prior, ok := files[agent.ID]; ok {
			err := fmt.Errorf("agent %q defined in both %s and %s", agent.ID, filepath.Base(prior), entry.Name())
			if strict {
				return err
			}
			r.logger.Warn("skipping duplicate agent definition", "path", path, "error", err)
			continue
		}
		if old, ok := r.agents[agent.ID]; ok {
			if len(agent.PromptVersions) == 0 {
				agent.PromptVersions = clonePromptVersions(old.PromptVersions)
			}
			if agent.CreatedAt.IsZero() {
				agent.CreatedAt = old.CreatedAt
			}
		}
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = time.Now()
		}
		if agent.UpdatedAt.IsZero() {
			agent.UpdatedAt = time.Now()
		}
		ensureVersion(agent)
		agents[agent.ID] = agent
		files[agent.ID] = path
	}

	r.agents = agents
	r.files = files
	return nil
}

func loadAgentFile(path string) (*models.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var agent models.Agent
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&agent); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if agent.ID == "" {
		base := filepath.Base(path)
		agent.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := validateID(agent.ID); err != nil {
		return nil, err
	}
	if agent.Name == "" {
		agent.Name = agent.ID
	}
	return &agent, nil
}

func isAgentFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (r *DirRepository) Get(id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (r *DirRepository) List() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, cloneAgent(agent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes the agent to its YAML file via a temp file and rename. The
// caller's struct is updated with the stamped timestamps and any appended
// prompt version.
func (r *DirRepository) Save(agent *models.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent is required")
	}
	if err := validateID(agent.ID); err != nil {
		return err
	}
	clone := cloneAgent(agent)

	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.files[clone.ID]
	if !ok {
		path = filepath.Join(r.dir, clone.ID+".yaml")
	}
	if old, ok := r.agents[clone.ID]; ok {
		if len(clone.PromptVersions) == 0 {
			clone.PromptVersions = clonePromptVersions(old.PromptVersions)
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = old.CreatedAt
		}
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	ensureVersion(clone)

	data, err := yaml.Marshal(clone)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write agent file: %w", err)
	}
	r.agents[clone.ID] = clone
	r.files[clone.ID] = path

	agent.PromptVersions = clonePromptVersions(clone.PromptVersions)
	agent.CreatedAt = clone.CreatedAt
	agent.UpdatedAt = clone.UpdatedAt
	return nil
}

func (r *DirRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, ok := r.files[id]
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove agent file: %w", err)
	}
	delete(r.agents, id)
	delete(r.files, id)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Watch reloads the repository when agent files change. Events are
// debounced so an editor's save burst triggers a single reload.
func (r *DirRepository) Watch(ctx context.Context) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(r.dir); err != nil {
		r.watchMu.Unlock()
		watcher.Close()
		return fmt.Errorf("watch agents directory: %w", err)
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	debounce := r.debounce
	r.watchMu.Unlock()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher, debounce)
	return nil
}

func (r *DirRepository) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer r.watchWg.Done()
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Reload(); err != nil {
				r.logger.Warn("agent reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isAgentFile(filepath.Base(event.Name)) {
				continue
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("agent watch error", "error", err)
		}
	}
}

// Close stops the watcher, if started.
func (r *DirRepository) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}
