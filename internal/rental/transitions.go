package rental

import (
	"domadoAPI/internal/errs"
)

var transitions = map[Status][]Status{
	StatusInProgress: {StatusPaused, StatusCompleted, StatusOverdue, StatusForciblyEnded},
	StatusPaused:     {StatusInProgress, StatusCompleted, StatusForciblyEnded},
	StatusOverdue:    {StatusCompleted, StatusForciblyEnded},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further lifecycle transition is possible.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

func illegal(from, to Status) error {
	return errs.WithMessage(errs.IllegalTransition, "rental cannot move from %s to %s", from, to)
}

// Valid reports whether s is a known rental status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusPaused, StatusCompleted, StatusOverdue, StatusForciblyEnded:
		return true
	}
	return false
}
