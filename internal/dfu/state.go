package dfu

import "fmt"

// State is the position of a Session in the upload sequence.
type State int

const (
	StateIdle State = iota
	StateStarted
	StateInitialized
	StateReceivingImage
	StateValidated
	StateActivated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateInitialized:
		return "initialized"
	case StateReceivingImage:
		return "receiving_image"
	case StateValidated:
		return "validated"
	case StateActivated:
		return "activated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateActivated || s == StateFailed
}
