// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and carries transport commands back to the player
package ui

import (
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	tea "github.com/charmbracelet/bubbletea"
)

// Command is a transport request from the keyboard
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdStop
	CmdCycleEncoding
	CmdResetDrops
	CmdQuit
)

func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "play"
	case CmdPause:
		return "pause"
	case CmdStop:
		return "stop"
	case CmdCycleEncoding:
		return "cycle-encoding"
	case CmdResetDrops:
		return "reset-drops"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// TransportControl holds the channel carrying commands to the player
type TransportControl struct {
	Commands chan Command
}

// NewTransportControl creates a new transport control handler
func NewTransportControl() *TransportControl {
	return &TransportControl{
		Commands: make(chan Command, 10),
	}
}

// send never blocks the UI; a full queue drops the key press
func (c *TransportControl) send(cmd Command) {
	if c == nil {
		return
	}
	select {
	case c.Commands <- cmd:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *TransportControl, backend string) Model {
	return Model{
		state:   output.Stopped,
		backend: backend,
		ctrl:    ctrl,
	}
}

// Run creates the TUI program; the caller runs it
func Run(ctrl *TransportControl, backend string) *tea.Program {
	return tea.NewProgram(NewModel(ctrl, backend), tea.WithAltScreen())
}
