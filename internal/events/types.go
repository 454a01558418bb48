package events

import (
	"fmt"
	"strings"
	"time"
)

// Event represents a single occurrence in the merge queue lifecycle
type Event struct {
	// Time is when the event occurred (set by bus on emit)
	Time time.Time `json:"time"`

	// Type identifies what happened
	Type EventType `json:"type"`

	// Queue is the queue ID this event relates to (empty for processor events)
	Queue string `json:"queue,omitempty"`

	// Branch is the base branch of the queue (empty for processor events)
	Branch string `json:"branch,omitempty"`

	// Entry is the queue entry ID (empty if not entry-related)
	Entry string `json:"entry,omitempty"`

	// PR is the pull request number (nil if not PR-related)
	PR *int `json:"pr,omitempty"`

	// Payload contains event-specific data (type varies by event)
	Payload any `json:"payload,omitempty"`

	// Error contains error message if this is a failure event
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category
type EventType string

// Queue entry lifecycle events
const (
	EntryAdded     EventType = "queue.entry.added"
	EntryRemoved   EventType = "queue.entry.removed"
	EntryStarted   EventType = "queue.entry.started"
	EntryCompleted EventType = "queue.entry.completed"
	EntryFailed    EventType = "queue.entry.failed"
)

// Check execution events
const (
	CheckStarted   EventType = "check.started"
	CheckCompleted EventType = "check.completed"
	CheckFailed    EventType = "check.failed"
)

// Queue processing cycle events
const (
	ProcessingStarted   EventType = "queue.processing.started"
	ProcessingCompleted EventType = "queue.processing.completed"
	ProcessingEmpty     EventType = "queue.processing.empty"
)

// Merge events
const (
	MergeStarted   EventType = "merge.started"
	MergeCompleted EventType = "merge.completed"
	MergeFailed    EventType = "merge.failed"
)

// Conflict events
const (
	ConflictDetected EventType = "conflict.detected"
	ConflictResolved EventType = "conflict.resolved"
)

// Processor lifecycle events
const (
	ProcessorStarted      EventType = "processor.started"
	ProcessorStopped      EventType = "processor.stopped"
	ProcessorShuttingDown EventType = "processor.shutting_down"
)

// NewEvent creates an event with the given type and queue ID
func NewEvent(eventType EventType, queue string) Event {
	return Event{
		Type:  eventType,
		Queue: queue,
	}
}

// WithBranch returns a copy of the event with the base branch set
func (e Event) WithBranch(branch string) Event {
	e.Branch = branch
	return e
}

// WithEntry returns a copy of the event with the entry ID set
func (e Event) WithEntry(entry string) Event {
	e.Entry = entry
	return e
}

// WithPR returns a copy of the event with the PR number set
func (e Event) WithPR(pr int) Event {
	e.PR = &pr
	return e
}

// WithPayload returns a copy of the event with the payload set
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure returns true if this is a failure event type
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed")
}

// String returns a human-readable representation of the event
func (e Event) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))

	if e.Branch != "" {
		parts = append(parts, e.Branch)
	}

	if e.PR != nil {
		parts = append(parts, fmt.Sprintf("pr=#%d", *e.PR))
	}

	return strings.Join(parts, " ")
}
