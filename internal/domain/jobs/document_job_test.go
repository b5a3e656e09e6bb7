package jobs

import "testing"

func TestDeriveParentStatusPriority(t *testing.T) {
	cases := []struct {
		name            string
		parentCancelled bool
		counts          StatusCounts
		want            string
	}{
		{"no children yet", false, StatusCounts{}, StatusPending},
		{"all pending", false, StatusCounts{Pending: 3}, StatusRunning},
		{"some running", false, StatusCounts{Running: 1, Completed: 2}, StatusRunning},
		{"all completed", false, StatusCounts{Completed: 4}, StatusCompleted},
		{"one failed beats running", false, StatusCounts{Failed: 1, Running: 2}, StatusFailed},
		{"one failed beats completed", false, StatusCounts{Failed: 1, Completed: 3}, StatusFailed},
		{"cancelled children", false, StatusCounts{Cancelled: 2, Completed: 1}, StatusCancelled},
		{"parent cancel wins over outstanding work", true, StatusCounts{Pending: 2, Running: 1}, StatusCancelled},
		{"failure still wins over parent cancel", true, StatusCounts{Failed: 1, Cancelled: 2}, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveParentStatus(tc.parentCancelled, tc.counts); got != tc.want {
				t.Fatalf("DeriveParentStatus(%v, %+v) = %s, want %s", tc.parentCancelled, tc.counts, got, tc.want)
			}
		})
	}
}

func TestDeriveParentStatusIsPureOverChildTransitions(t *testing.T) {
	// Walk one child through its lifecycle alongside a completed sibling and a
	// running sibling; the derived status must follow the priority order at
	// every step.
	base := StatusCounts{Completed: 1, Running: 1}

	steps := []struct {
		child string
		want  string
	}{
		{StatusPending, StatusRunning},
		{StatusRunning, StatusRunning},
		{StatusFailed, StatusFailed},
	}
	for _, s := range steps {
		c := base
		switch s.child {
		case StatusPending:
			c.Pending++
		case StatusRunning:
			c.Running++
		case StatusFailed:
			c.Failed++
		}
		if got := DeriveParentStatus(false, c); got != s.want {
			t.Fatalf("child %s: derived %s, want %s", s.child, got, s.want)
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminalStatus(s) {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []string{StatusPending, StatusRunning} {
		if IsTerminalStatus(s) {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
