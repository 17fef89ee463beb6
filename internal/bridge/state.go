package bridge

import "fmt"

// State is the lifecycle state of the control channel.
//
//	Connecting -> Open -> Closing -> Closed
//	Connecting -> Reconnecting -> Connecting      (dial failure)
//	Open -> Reconnecting -> Connecting            (unclean close)
//	Open -> Closed                                (peer closed cleanly)
type State int

const (
	Connecting State = iota
	Open
	Closing
	Closed
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validNext lists the transitions the manager may take.
var validNext = map[State][]State{
	Connecting:   {Open, Reconnecting, Closed},
	Open:         {Closing, Closed, Reconnecting},
	Closing:      {Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {Connecting},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
