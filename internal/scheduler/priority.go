package scheduler

import "strings"

// Priority classes order queues when deficits tie. Smaller value means a
// higher class.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Weight is the deficit a queue of this class earns each round it is
// passed over.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	default:
		return 1
	}
}

// PriorityForBranch derives a queue's priority class from its base branch
// name. Substring matches are case-insensitive and the first hit wins:
// hotfix branches are critical, release branches high, the default
// branches normal, everything else low.
func PriorityForBranch(branch string) Priority {
	b := strings.ToLower(branch)
	switch {
	case strings.Contains(b, "hotfix"):
		return PriorityCritical
	case strings.Contains(b, "release"):
		return PriorityHigh
	case b == "main" || b == "master":
		return PriorityNormal
	default:
		return PriorityLow
	}
}
