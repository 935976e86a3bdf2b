// ABOUTME: Device and producer contracts used by the Engine
// ABOUTME: Common interfaces implemented by output backends and audio sources
package output

import (
	"context"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

// Device represents an open audio output session.
//
// The device takes ownership of data passed to Submit until it reports the
// buffer id from PollCompleted or until Flush returns. Implementations must
// be safe for use from the engine worker while their own playback goroutine
// or callback consumes queued data.
type Device interface {
	// Submit queues one buffer of interleaved PCM in the given format
	Submit(id int, data []byte, format audio.Format) error

	// PollCompleted appends the ids of buffers that finished playing since
	// the last call to dst and returns it. It never blocks.
	PollCompleted(dst []int) []int

	// Queued returns the number of submitted buffers not yet completed
	Queued() int

	// Flush drops every queued buffer without playing it
	Flush() error
}

// FormatChecker is implemented by devices that accept only a subset of the
// formats audio.Format.Validate allows.
type FormatChecker interface {
	CheckFormat(format audio.Format) error
}

// Notifier is implemented by devices that can signal buffer completion.
// The engine wakes on each receive in addition to its polling interval.
type Notifier interface {
	Completions() <-chan struct{}
}

// Producer supplies PCM audio on demand.
//
// Produce returns at most frames interleaved frames encoded in format. A
// short or empty result means no audio is available right now; it is not
// end of stream. The returned slice is copied before Produce is called again.
type Producer interface {
	Produce(ctx context.Context, format audio.Format, frames int) ([]byte, error)
}

// ProducerFunc adapts a function to the Producer interface
type ProducerFunc func(ctx context.Context, format audio.Format, frames int) ([]byte, error)

// Produce calls f
func (f ProducerFunc) Produce(ctx context.Context, format audio.Format, frames int) ([]byte, error) {
	return f(ctx, format, frames)
}
