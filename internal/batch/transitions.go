package batch

var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusRolledBack},
	StatusFailed:    {StatusRolledBack},
}

// CanTransition reports whether from→to is an edge of the batch lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether the batch still accepts progress.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Finished reports whether the batch reached an outcome that resume and
// rollback can act on.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}
