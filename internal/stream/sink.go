// Package stream carries run events from the execution loop to consumers.
// The session registry is the only structure shared between concurrent runs;
// sinks deliver the typed event sequence that terminates with an explicit
// close.
package stream

import (
	"sync"

	"github.com/haasonsaas/loom/pkg/models"
)

// Sink receives run events during execution.
// Implementations must be safe to call from multiple goroutines, and Send
// must be a no-op after Close rather than panic: the execution loop keeps
// running after a consumer disconnects.
type Sink interface {
	// Send delivers an event to the consumer.
	Send(e models.Event)

	// Close marks the end of the stream. Idempotent.
	Close()
}

// ChannelSink buffers events on a channel for an in-process consumer.
// End-of-stream is signaled by closing the channel.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan models.Event
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
// A zero or negative size gets a default of 64.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan models.Event, buffer)}
}

// Events returns the receive side. It is closed when the sink closes.
func (s *ChannelSink) Events() <-chan models.Event {
	return s.ch
}

// Send delivers the event to the channel. If the buffer is full the event
// is dropped rather than blocking the execution loop; end-of-stream is
// carried by the channel close, not by any single event.
func (s *ChannelSink) Send(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

// Close closes the channel. Subsequent Sends are no-ops.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// MultiSink fans out events to multiple sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that dispatches to every non-nil sink given.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Send dispatches the event to all sinks.
func (s *MultiSink) Send(e models.Event) {
	for _, sink := range s.sinks {
		sink.Send(e)
	}
}

// Close closes all sinks.
func (s *MultiSink) Close() {
	for _, sink := range s.sinks {
		sink.Close()
	}
}

// CallbackSink wraps a function for inline event handling.
type CallbackSink struct {
	fn func(e models.Event)
}

// NewCallbackSink creates a sink that calls fn for each event.
func NewCallbackSink(fn func(e models.Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Send calls the wrapped function.
func (s *CallbackSink) Send(e models.Event) {
	if s.fn != nil {
		s.fn(e)
	}
}

// Close does nothing; the callback has no stream to terminate.
func (s *CallbackSink) Close() {}

// NopSink discards all events.
type NopSink struct{}

// Send does nothing.
func (NopSink) Send(models.Event) {}

// Close does nothing.
func (NopSink) Close() {}
