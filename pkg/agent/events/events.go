package events

import (
	"sync"
	"time"
)

// EventType identifies what happened during an orchestrator step
type EventType string

const (
	EventTypeStepStarted          EventType = "step_started"
	EventTypeNarration            EventType = "narration"
	EventTypeDirective            EventType = "directive"
	EventTypeExtraction           EventType = "extraction"
	EventTypeExtractionSkipped    EventType = "extraction_skipped"
	EventTypeCondensationFallback EventType = "condensation_fallback"
	EventTypeProtocolError        EventType = "protocol_error"
	EventTypeLoopGuard            EventType = "loop_guard"
	EventTypeStepFinished         EventType = "step_finished"
)

// Event is one structured orchestrator event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	TurnID    string    `json:"turn_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	// Iteration is set for events raised inside the step loop
	Iteration *IterationInfo `json:"iteration,omitempty"`
}

// IterationInfo locates an event within the step loop
type IterationInfo struct {
	Current int `json:"current"` // 0-based
	Maximum int `json:"maximum"`
}

// NarrationData carries one narrator output
type NarrationData struct {
	Content      string `json:"content"`
	StepComplete bool   `json:"step_complete"`
}

// DirectiveData describes an applied directive and the turn it left active
type DirectiveData struct {
	Kind         string `json:"kind"`
	Objective    string `json:"objective,omitempty"`
	ActiveTurnID string `json:"active_turn_id"`
}

// ExtractionData reports applied state deltas
type ExtractionData struct {
	Deltas int `json:"deltas"`
}

// ErrorData carries a recoverable failure
type ErrorData struct {
	Error   error  `json:"error"`
	Context string `json:"context,omitempty"`
}

// EventHandler processes orchestrator events synchronously
type EventHandler func(event Event)

// EventEmitter dispatches events to registered handlers
type EventEmitter interface {
	Emit(event Event)
	// AddHandler registers h and returns a function that unregisters it
	AddHandler(h EventHandler) (remove func())
}

// SimpleEventEmitter calls handlers in registration order on the emitting goroutine
type SimpleEventEmitter struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]EventHandler
	order    []int
}

func NewSimpleEventEmitter() *SimpleEventEmitter {
	return &SimpleEventEmitter{handlers: map[int]EventHandler{}}
}

func (e *SimpleEventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.mu.RLock()
	hs := make([]EventHandler, 0, len(e.order))
	for _, id := range e.order {
		hs = append(hs, e.handlers[id])
	}
	e.mu.RUnlock()

	for _, h := range hs {
		h(event)
	}
}

func (e *SimpleEventEmitter) AddHandler(h EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.handlers[id] = h
	e.order = append(e.order, id)

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Len returns the number of registered handlers
func (e *SimpleEventEmitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}

var _ EventEmitter = (*SimpleEventEmitter)(nil)
