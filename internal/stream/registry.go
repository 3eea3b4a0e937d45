package stream

import (
	"errors"
	"strings"
	"sync"

	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/pkg/models"
)

var (
	// ErrSessionExists is returned when opening a session id that is
	// already registered.
	ErrSessionExists = errors.New("stream: session already exists")

	// ErrEmptySessionID is returned when a session id is blank.
	ErrEmptySessionID = errors.New("stream: session id is required")
)

// Registry maps streaming session ids to sinks. It is the only mutable
// structure shared across concurrent runs, so all access goes through the
// lock.
type Registry struct {
	metrics *observability.Metrics

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewRegistry creates an empty session registry. metrics may be nil.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		metrics: metrics,
		sinks:   make(map[string]Sink),
	}
}

// Open registers a sink under a session id.
func (r *Registry) Open(sessionID string, sink Sink) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	if sink == nil {
		return errors.New("stream: sink is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[sessionID]; ok {
		return ErrSessionExists
	}
	r.sinks[sessionID] = sink

	if r.metrics != nil {
		r.metrics.SessionOpened()
	}
	return nil
}

// Get returns the sink for a session id.
func (r *Registry) Get(sessionID string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sinks[sessionID]
	return sink, ok
}

// Send delivers an event to the session's sink. Delivery to an unknown or
// closed session is a no-op: a consumer may disconnect while its run is
// still executing.
func (r *Registry) Send(sessionID string, e models.Event) {
	r.mu.RLock()
	sink, ok := r.sinks[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	sink.Send(e)
}

// Close closes the session's sink and removes it. Idempotent.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	sink, ok := r.sinks[sessionID]
	if ok {
		delete(r.sinks, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	sink.Close()
	if r.metrics != nil {
		r.metrics.SessionClosed()
	}
}

// CloseAll closes every registered session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]Sink)
	r.mu.Unlock()

	for range sinks {
		if r.metrics != nil {
			r.metrics.SessionClosed()
		}
	}
	for _, sink := range sinks {
		sink.Close()
	}
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}
