package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventCallStart    EventKind = "call-start"
	EventCallEnd      EventKind = "call-end"
	EventCommandStart EventKind = "command-start"
	EventOutputChunk  EventKind = "output-chunk"
	EventInfo         EventKind = "info"
	EventError        EventKind = "error"
	EventCompleted    EventKind = "completed"
)

// Event is a typed lifecycle event emitted by the agent loop.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives loop events as they occur. Emit must not block for
// long and must never panic the loop; the loop wraps every call in a
// recover so a misbehaving sink cannot abort a run.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event Event)

// Emit calls the wrapped function.
func (f EventSinkFunc) Emit(event Event) { f(event) }

// MultiSink fans out each event to every sink in order.
func MultiSink(sinks ...EventSink) EventSink {
	return EventSinkFunc(func(event Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(event)
			}
		}
	})
}

// EventEmitter delivers events to the host application via a channel.
type EventEmitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event to the channel. If the emitter is closed or the
// channel is full, the event is silently dropped.
func (e *EventEmitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop event to avoid blocking the agent loop.
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
