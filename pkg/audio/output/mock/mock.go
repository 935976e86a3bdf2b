// ABOUTME: Scriptable in-memory output device for tests
// ABOUTME: Records submissions and lets tests decide when buffers complete
// Package mock provides an in-memory implementation of [output.Device] for
// use in unit tests.
//
// The mock never plays anything. Submitted buffers stay queued until the test
// completes them with [Device.Complete] or [Device.Drain], which makes cycle
// behaviour fully deterministic. Set the exported fields before use to
// inject failures; inspect the recorded submissions afterwards.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	eng, _ := output.New(dev, producer, output.Config{Format: f})
//	_ = eng.Start()
//	// ... wait for submissions
//	dev.Drain() // the device ran dry
package mock

import (
	"errors"
	"sync"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
)

// ErrRejected is a generic submission failure for tests
var ErrRejected = errors.New("mock: buffer rejected")

// Submission is one buffer handed to the device
type Submission struct {
	ID     int
	Data   []byte
	Frames int
	Format audio.Format
}

// Device is a mock implementation of [output.Device].
type Device struct {
	mu sync.Mutex

	// SubmitErrors are returned by successive Submit calls, one per call,
	// before SubmitError is consulted.
	SubmitErrors []error

	// SubmitError is returned by every Submit call once SubmitErrors is empty
	SubmitError error

	// FlushError is returned by Flush after the queue has been cleared
	FlushError error

	// CheckFormatFunc backs CheckFormat. Nil accepts every format.
	CheckFormatFunc func(audio.Format) error

	// Submissions records every accepted buffer in submission order
	Submissions []Submission

	// CallCountSubmit records how many times Submit was called
	CallCountSubmit int

	// CallCountFlush records how many times Flush was called
	CallCountFlush int

	queue     []int
	completed []int
}

// Submit implements [output.Device]
func (d *Device) Submit(id int, data []byte, format audio.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountSubmit++

	if len(d.SubmitErrors) > 0 {
		err := d.SubmitErrors[0]
		d.SubmitErrors = d.SubmitErrors[1:]
		if err != nil {
			return err
		}
	} else if d.SubmitError != nil {
		return d.SubmitError
	}

	for _, q := range d.queue {
		if q == id {
			return errors.New("mock: buffer submitted twice")
		}
	}

	d.queue = append(d.queue, id)
	d.Submissions = append(d.Submissions, Submission{
		ID:     id,
		Data:   append([]byte(nil), data...),
		Frames: len(data) / format.FrameSize(),
		Format: format,
	})
	return nil
}

// PollCompleted implements [output.Device]
func (d *Device) PollCompleted(dst []int) []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	dst = append(dst, d.completed...)
	d.completed = d.completed[:0]
	return dst
}

// Queued implements [output.Device]
func (d *Device) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Flush implements [output.Device]
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountFlush++
	d.queue = d.queue[:0]
	d.completed = d.completed[:0]
	return d.FlushError
}

// CheckFormat implements [output.FormatChecker]
func (d *Device) CheckFormat(f audio.Format) error {
	if d.CheckFormatFunc == nil {
		return nil
	}
	return d.CheckFormatFunc(f)
}

// Complete marks up to n of the oldest queued buffers as played and returns
// how many were completed.
func (d *Device) Complete(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > len(d.queue) {
		n = len(d.queue)
	}
	d.completed = append(d.completed, d.queue[:n]...)
	d.queue = append(d.queue[:0], d.queue[n:]...)
	return n
}

// Drain completes every queued buffer, leaving the device with nothing to play
func (d *Device) Drain() int {
	d.mu.Lock()
	n := len(d.queue)
	d.mu.Unlock()
	return d.Complete(n)
}

// SubmittedFrames returns the total number of frames accepted so far
func (d *Device) SubmittedFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, s := range d.Submissions {
		total += s.Frames
	}
	return total
}

// SubmissionCount returns the number of accepted buffers
func (d *Device) SubmissionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Submissions)
}

// LastSubmission returns the most recent accepted buffer
func (d *Device) LastSubmission() (Submission, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Submissions) == 0 {
		return Submission{}, false
	}
	return d.Submissions[len(d.Submissions)-1], true
}
