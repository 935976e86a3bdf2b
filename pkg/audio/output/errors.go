// ABOUTME: Error values returned by the output engine
// ABOUTME: Sentinels for configuration misuse and a wrapper for device failures
package output

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

var (
	// ErrInvalidFormat is returned by SetFormat and New for a rejected format
	ErrInvalidFormat = audio.ErrInvalidFormat

	// ErrNoFormat is returned by Start when no format has been set
	ErrNoFormat = errors.New("no output format set")

	// ErrMissingProducer is returned by New without a producer
	ErrMissingProducer = errors.New("producer is required")

	// ErrMissingDevice is returned by New without a device
	ErrMissingDevice = errors.New("device is required")

	// ErrDeviceFailed marks the terminal condition reached after repeated
	// device failures. The engine must be stopped and re-constructed.
	ErrDeviceFailed = errors.New("output device failed")

	// ErrDeviceBusy is returned by devices that cannot accept a buffer yet,
	// for example while draining before a format switch. It is retried on the
	// next cycle and never counts toward ErrDeviceFailed.
	ErrDeviceBusy = errors.New("device busy")

	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("engine closed")

	errProducerBusy = errors.New("previous producer call still running")
)

// DeviceError reports a failure returned by the Device
type DeviceError struct {
	Op  string
	ID  int
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s (buffer %d): %v", e.Op, e.ID, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
