// ABOUTME: Transport state of the output engine
// ABOUTME: Stopped, Playing and Paused with string names for logs and the TUI
package output

import "fmt"

// State is the transport state of an Engine
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
