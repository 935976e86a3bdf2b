// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Shows transport state, format and engine counters and maps keys to transport commands
package ui

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	// Transport
	state   output.State
	format  audio.Format
	backend string
	err     string

	// Metadata
	title  string
	artist string
	album  string

	// Stats
	stats output.Stats

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int

	ctrl     *TransportControl
	quitting bool
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping playback...\n"
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("pcmstream"))
	b.WriteString("\n")
	m.renderTransport(&b)
	m.renderStats(&b)
	if m.showDebug {
		m.renderDebug(&b)
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space:Play/Pause  s:Stop  e:Encoding  r:Reset drops  d:Debug  q:Quit"))
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-9s", name+":")))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

// renderTransport renders state, format and what is playing
func (m Model) renderTransport(b *strings.Builder) {
	state := m.state.String()
	if m.state == output.Playing {
		state = "▶ " + state
	} else if m.state == output.Paused {
		state = "⏸ " + state
	} else {
		state = "■ " + state
	}
	field(b, "State", state)
	field(b, "Output", fmt.Sprintf("%s (%s)", m.format, m.backend))

	track := "(No metadata)"
	if m.title != "" {
		track = truncate(m.title, 48)
		if m.artist != "" {
			track = truncate(m.artist, 24) + " - " + track
		}
	}
	field(b, "Playing", track)

	if m.err != "" {
		b.WriteString(errorStyle.Render("Error: " + m.err))
		b.WriteString("\n")
	}
}

// renderStats renders buffer occupancy and engine counters
func (m Model) renderStats(b *strings.Builder) {
	b.WriteString("\n")
	total := m.stats.Queued + m.stats.Free
	field(b, "Buffers", fmt.Sprintf("[%s] %d/%d queued", renderBar(m.stats.Queued, total, 10), m.stats.Queued, total))

	drops := fmt.Sprintf("%d", m.stats.Drops)
	if m.stats.Drops > 0 {
		drops = warnStyle.Render(drops)
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-9s", "Drops:")))
	b.WriteString(drops)
	b.WriteString("\n")

	field(b, "Sent", fmt.Sprintf("%d buffers, %d frames", m.stats.Submitted, m.stats.FramesSubmitted))
}

// renderDebug renders the less common counters
func (m Model) renderDebug(b *strings.Builder) {
	b.WriteString("\n")
	field(b, "Reads", fmt.Sprintf("short %d, empty %d", m.stats.ShortReads, m.stats.EmptyReads))
	field(b, "Producer", fmt.Sprintf("timeouts %d, errors %d", m.stats.ProducerTimeouts, m.stats.ProducerErrors))
	field(b, "Device", fmt.Sprintf("errors %d, reclaimed %d", m.stats.DeviceErrors, m.stats.Reclaimed))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.ctrl.send(CmdQuit)
		return m, tea.Quit
	case " ":
		if m.state == output.Playing {
			m.ctrl.send(CmdPause)
		} else {
			m.ctrl.send(CmdPlay)
		}
	case "s":
		m.ctrl.send(CmdStop)
	case "e":
		m.ctrl.send(CmdCycleEncoding)
	case "r":
		m.ctrl.send(CmdResetDrops)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	m.state = msg.State
	m.stats = msg.Stats
	if msg.Format.IsSet() {
		m.format = msg.Format
	}
	if msg.Backend != "" {
		m.backend = msg.Backend
	}
	if msg.Title != "" {
		m.title = msg.Title
		m.artist = msg.Artist
		m.album = msg.Album
	}
	m.err = msg.Err
}

// StatusMsg updates TUI state
type StatusMsg struct {
	State   output.State
	Format  audio.Format
	Backend string
	Title   string
	Artist  string
	Album   string
	Stats   output.Stats
	Err     string
}

// Utility functions
func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
