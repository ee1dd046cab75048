package session

// State is a step of the per-request state machine. Errored and Done are terminal.
type State int

const (
	StateClassifying State = iota
	StateRetrieving
	StateLookingUp
	StateComposing
	StateStreaming
	StateStreamingCitations
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateClassifying:
		return "classifying"
	case StateRetrieving:
		return "retrieving"
	case StateLookingUp:
		return "looking_up"
	case StateComposing:
		return "composing"
	case StateStreaming:
		return "streaming"
	case StateStreamingCitations:
		return "streaming_citations"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}
