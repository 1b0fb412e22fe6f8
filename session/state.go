package session

// State is the lifecycle stage of a session.
type State int

// Session states in lifecycle order.
const (
	StateNew State = iota
	Connecting
	CapabilitiesLoaded
	SendTransportReady
	RecvTransportReady
	Producing
	Closing
	Closed
)

var stateNames = [...]string{
	StateNew:           "new",
	Connecting:         "connecting",
	CapabilitiesLoaded: "capabilities-loaded",
	SendTransportReady: "send-transport-ready",
	RecvTransportReady: "recv-transport-ready",
	Producing:          "producing",
	Closing:            "closing",
	Closed:             "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// advance returns the state after moving toward next. Ordinary states never
// go backwards and never leave the closing path. Closing and Closed are
// reachable from anywhere.
func advance(current, next State) State {
	switch {
	case next == Closed:
		return Closed
	case next == Closing:
		if current == Closed {
			return Closed
		}
		return Closing
	case current >= Closing:
		return current
	case next > current:
		return next
	default:
		return current
	}
}
