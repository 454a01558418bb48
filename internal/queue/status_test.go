package queue

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to EntryStatus
		want     bool
	}{
		{StatusPending, StatusUpdating, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusChecking, false},
		{StatusPending, StatusCompleted, false},
		{StatusUpdating, StatusChecking, true},
		{StatusUpdating, StatusReady, false},
		{StatusChecking, StatusReady, true},
		{StatusChecking, StatusCompleted, false},
		{StatusReady, StatusCompleted, true},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusUpdating, false},
		{EntryStatus("bogus"), StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []EntryStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	active := []EntryStatus{StatusPending, StatusUpdating, StatusChecking, StatusReady}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestIsInFlight(t *testing.T) {
	inFlight := []EntryStatus{StatusUpdating, StatusChecking, StatusReady}
	for _, s := range inFlight {
		if !s.IsInFlight() {
			t.Errorf("expected %s to be in flight", s)
		}
	}
	idle := []EntryStatus{StatusPending, StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range idle {
		if s.IsInFlight() {
			t.Errorf("expected %s to not be in flight", s)
		}
	}
}

// Every status reachable through ValidTransitions must itself have a
// transition entry, so the table stays closed under its own moves.
func TestValidTransitions_Closed(t *testing.T) {
	for from, targets := range ValidTransitions {
		for _, to := range targets {
			if _, ok := ValidTransitions[to]; !ok {
				t.Errorf("transition %s -> %s leads to a status with no table entry", from, to)
			}
		}
	}
}
