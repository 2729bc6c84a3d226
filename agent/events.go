package agent

import (
	"context"
	"fmt"
	"time"
)

// EventType identifies the kind of progress event.
type EventType string

const (
	EventStart                EventType = "start"
	EventSandboxCreate        EventType = "sandbox_create"
	EventProgress             EventType = "progress"
	EventAnalyze              EventType = "analyze"
	EventPlan                 EventType = "plan"
	EventImplement            EventType = "implement"
	EventToolCall             EventType = "tool_call"
	EventToolError            EventType = "tool_error"
	EventFileChange           EventType = "file_change"
	EventPRCreate             EventType = "pr_create"
	EventPRCreated            EventType = "pr_created"
	EventPauseForVerification EventType = "pause_for_verification"
	EventComplete             EventType = "complete"
	EventError                EventType = "error"
	EventDebug                EventType = "debug"
)

// Event is one unit of the ordered progress stream for a run.
type Event struct {
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Progress  *int           `json:"progress,omitempty"` // 0-100
	Payload   map[string]any `json:"payload,omitempty"`
}

// emitter delivers events in strict program order. Sends block so no
// event is ever dropped or reordered; the consumer drains the channel.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func (e *emitter) emit(typ EventType, message string) {
	e.send(Event{Type: typ, Message: message, Timestamp: time.Now()})
}

func (e *emitter) emitf(typ EventType, format string, a ...any) {
	e.emit(typ, fmt.Sprintf(format, a...))
}

func (e *emitter) progress(pct int, message string) {
	e.send(Event{Type: EventProgress, Message: message, Timestamp: time.Now(), Progress: &pct})
}

func (e *emitter) payload(typ EventType, message string, payload map[string]any) {
	e.send(Event{Type: typ, Message: message, Timestamp: time.Now(), Payload: payload})
}

func (e *emitter) send(ev Event) {
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
	}
}
