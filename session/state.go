package session

import "fmt"

// State is the lifecycle position of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingServerInit
	Streaming
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingServerInit:
		return "awaiting-server-init"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
