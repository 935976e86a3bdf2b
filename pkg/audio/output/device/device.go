// ABOUTME: Output device backends and a name-based constructor
// ABOUTME: Selects the oto, malgo or virtual session from configuration
// Package device provides output.Device implementations.
//
// Three backends are available:
//   - oto: the platform default output, one fixed format per process
//   - malgo: miniaudio, reopens the hardware when the format changes
//   - virtual: a wall-clock simulation with no audio hardware
//
// All of them serve submitted buffers in order from a pull-driven queue,
// pad starvation with silence and signal completions through
// output.Notifier.
package device

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	"github.com/charmbracelet/log"
)

// Backend names accepted by Open
const (
	BackendOto     = "oto"
	BackendMalgo   = "malgo"
	BackendVirtual = "virtual"
)

// Session is an open output device that must be closed after use
type Session interface {
	output.Device
	io.Closer
}

// Options configures Open. Fields that do not apply to the chosen backend
// are ignored.
type Options struct {
	// BufferSize is the oto hardware buffer
	BufferSize time.Duration

	// PeriodMillis is the malgo hardware period
	PeriodMillis uint32

	// Speed scales the virtual clock
	Speed float64

	// Sink receives the virtual device's output
	Sink io.Writer

	Logger *log.Logger
}

// Open creates the named backend
func Open(backend string, opts Options) (Session, error) {
	switch strings.ToLower(backend) {
	case BackendOto, "":
		return NewOto(OtoConfig{BufferSize: opts.BufferSize, Logger: opts.Logger}), nil
	case BackendMalgo:
		return NewMalgo(MalgoConfig{PeriodMillis: opts.PeriodMillis, Logger: opts.Logger})
	case BackendVirtual:
		return NewVirtual(VirtualConfig{Speed: opts.Speed, Sink: opts.Sink, Logger: opts.Logger}), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", backend)
	}
}

var (
	_ Session              = (*Oto)(nil)
	_ Session              = (*Malgo)(nil)
	_ Session              = (*Virtual)(nil)
	_ output.FormatChecker = (*Oto)(nil)
	_ output.FormatChecker = (*Malgo)(nil)
	_ output.Notifier      = (*Virtual)(nil)
)
