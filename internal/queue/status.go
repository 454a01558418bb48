package queue

// EntryStatus represents a queue entry's lifecycle state
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusUpdating  EntryStatus = "updating"
	StatusChecking  EntryStatus = "checking"
	StatusReady     EntryStatus = "ready"
	StatusCompleted EntryStatus = "completed" // Terminal: merged into the base branch
	StatusFailed    EntryStatus = "failed"
	StatusCancelled EntryStatus = "cancelled"
)

// ValidTransitions defines allowed state transitions.
// Forward flow: pending -> updating -> checking -> ready -> completed.
// Any non-terminal state may fail or be cancelled.
var ValidTransitions = map[EntryStatus][]EntryStatus{
	StatusPending:   {StatusUpdating, StatusFailed, StatusCancelled},
	StatusUpdating:  {StatusChecking, StatusFailed, StatusCancelled},
	StatusChecking:  {StatusReady, StatusFailed, StatusCancelled},
	StatusReady:     {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// IsTerminal returns true if the status is a final state
func (s EntryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsInFlight returns true if the entry is being actively processed.
// At most one entry per queue may be in flight, and it sits at position 0.
func (s EntryStatus) IsInFlight() bool {
	return s == StatusUpdating || s == StatusChecking || s == StatusReady
}

// CanTransition checks if a transition from -> to is valid
func CanTransition(from, to EntryStatus) bool {
	validTargets, exists := ValidTransitions[from]
	if !exists {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}
