package session

// State is a bot session lifecycle state
type State string

const (
	StatePending   State = "pending"
	StateJoining   State = "joining"
	StateInMeeting State = "in_meeting"
	StateLeaving   State = "leaving"
	StateEnded     State = "ended"
	StateFailed    State = "failed"
)

// IsTerminal reports whether the state ends the session lifecycle
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// transitions lists the legal forward edges of the lifecycle. The error
// path (any non-terminal state to failed) and terminal re-entry are
// handled in CanTransition directly.
var transitions = map[State][]State{
	StatePending:   {StateJoining},
	StateJoining:   {StateInMeeting},
	StateInMeeting: {StateLeaving},
	StateLeaving:   {StateEnded},
}

// CanTransition reports whether moving from s to next is legal. Moving
// between terminal states is legal but applied as a no-op by the caller.
func (s State) CanTransition(next State) bool {
	if s.IsTerminal() {
		return next.IsTerminal()
	}

	if next == StateFailed {
		return true
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
