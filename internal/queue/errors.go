package queue

import "errors"

var (
	// ErrQueueNotFound is returned when a queue id resolves to nothing.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrEntryNotFound is returned when an entry id resolves to nothing.
	ErrEntryNotFound = errors.New("queue entry not found")
)
