// ABOUTME: Tests for engine construction, format handling and transport state
// ABOUTME: Exercises the state table, NoFormat and MissingProducer conditions
package output

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output/mock"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cdFormat = audio.Format{Channels: 2, SampleRate: 44100, Encoding: audio.PCM16}

// silence returns a producer that always fills the request and counts calls
func silence(calls *int) ProducerFunc {
	return func(_ context.Context, f audio.Format, frames int) ([]byte, error) {
		if calls != nil {
			*calls++
		}
		return make([]byte, f.BytesForFrames(frames)), nil
	}
}

// empty returns a producer that never has audio
func empty(calls *int) ProducerFunc {
	return func(context.Context, audio.Format, int) ([]byte, error) {
		if calls != nil {
			*calls++
		}
		return nil, nil
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// newTestEngine builds an engine whose cycle is driven by the test
func newTestEngine(t *testing.T, dev Device, p Producer, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.ProducerTimeout == 0 {
		cfg.ProducerTimeout = -1
	}
	if cfg.BufferFrames == 0 {
		cfg.BufferFrames = 256
	}
	e, err := newEngine(dev, p, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewRequiresProducer(t *testing.T) {
	_, err := New(&mock.Device{}, nil, Config{Format: cdFormat})
	assert.ErrorIs(t, err, ErrMissingProducer)

	var fn ProducerFunc
	_, err = New(&mock.Device{}, fn, Config{Format: cdFormat})
	assert.ErrorIs(t, err, ErrMissingProducer)
}

func TestNewRequiresDevice(t *testing.T) {
	_, err := New(nil, silence(nil), Config{Format: cdFormat})
	assert.ErrorIs(t, err, ErrMissingDevice)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(&mock.Device{}, silence(nil), Config{Buffers: 1})
	assert.Error(t, err)

	_, err = New(&mock.Device{}, silence(nil), Config{BufferFrames: -5})
	assert.Error(t, err)

	_, err = New(&mock.Device{}, silence(nil), Config{Format: audio.Format{Channels: 0, SampleRate: 44100, Encoding: audio.PCM16}})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNewDefaults(t *testing.T) {
	e := newTestEngine(t, &mock.Device{}, silence(nil), Config{BufferFrames: 0, ProducerTimeout: 0})

	assert.Equal(t, DefaultBuffers, e.pool.size())
	assert.Equal(t, DefaultPollInterval, e.config.PollInterval)
	assert.Equal(t, DefaultMaxDeviceErrors, e.config.MaxDeviceErrors)
	assert.Equal(t, Stopped, e.State())
	assert.Equal(t, uint64(0), e.Drops())
	assert.NotEmpty(t, e.ID())
}

func TestStartWithoutFormat(t *testing.T) {
	e := newTestEngine(t, &mock.Device{}, silence(nil), Config{})

	assert.Equal(t, audio.Unset, e.Format())
	assert.False(t, e.Format().IsSet())

	err := e.Start()
	assert.ErrorIs(t, err, ErrNoFormat)
	assert.Equal(t, Stopped, e.State())

	require.NoError(t, e.SetFormat(cdFormat))
	require.NoError(t, e.Start())
	assert.Equal(t, Playing, e.State())
}

func TestSetFormatRoundTrip(t *testing.T) {
	e := newTestEngine(t, &mock.Device{}, silence(nil), Config{})

	f := audio.Format{Channels: 1, SampleRate: 44100, Encoding: audio.PCM16}
	require.NoError(t, e.SetFormat(f))
	assert.Equal(t, f, e.Format())
}

func TestSetFormatRejectsInvalid(t *testing.T) {
	e := newTestEngine(t, &mock.Device{}, silence(nil), Config{Format: cdFormat})

	bad := []audio.Format{
		{Channels: 0, SampleRate: 44100, Encoding: audio.PCM16},
		{Channels: 2, SampleRate: 0, Encoding: audio.PCM16},
		{Channels: 2, SampleRate: 44100},
		audio.Unset,
	}
	for _, f := range bad {
		err := e.SetFormat(f)
		assert.ErrorIs(t, err, ErrInvalidFormat, f.String())
		assert.Equal(t, cdFormat, e.Format())
	}
}

func TestSetFormatRejectedByDevice(t *testing.T) {
	dev := &mock.Device{
		CheckFormatFunc: func(f audio.Format) error {
			if f.Encoding == audio.PCM32 {
				return errors.New("pcm32 not supported")
			}
			return nil
		},
	}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat})

	err := e.SetFormat(audio.Format{Channels: 2, SampleRate: 44100, Encoding: audio.PCM32})
	assert.ErrorIs(t, err, ErrInvalidFormat)
	assert.Equal(t, cdFormat, e.Format())
}

func TestTransportTable(t *testing.T) {
	type step struct {
		op   string
		want State
	}
	tests := []struct {
		name  string
		steps []step
	}{
		{"stop when stopped", []step{{"stop", Stopped}, {"stop", Stopped}}},
		{"pause when stopped", []step{{"pause", Paused}, {"pause", Paused}}},
		{"start stop", []step{{"start", Playing}, {"stop", Stopped}}},
		{"start pause start", []step{{"start", Playing}, {"pause", Paused}, {"start", Playing}}},
		{"start twice", []step{{"start", Playing}, {"start", Playing}}},
		{"pause then stop", []step{{"start", Playing}, {"pause", Paused}, {"stop", Stopped}, {"start", Playing}}},
		{"pause from stopped then start", []step{{"pause", Paused}, {"start", Playing}, {"pause", Paused}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, &mock.Device{}, silence(nil), Config{Format: cdFormat})
			for i, s := range tt.steps {
				switch s.op {
				case "start":
					require.NoError(t, e.Start())
				case "pause":
					e.Pause()
				case "stop":
					e.Stop()
				}
				assert.Equal(t, s.want, e.State(), "step %d (%s)", i, s.op)
			}
		})
	}
}

func TestStopKeepsDropsAndFormat(t *testing.T) {
	dev := &mock.Device{}
	e := newTestEngine(t, dev, silence(nil), Config{Format: cdFormat})

	require.NoError(t, e.Start())
	e.cycle()
	dev.Drain()
	e.cycle()
	require.Equal(t, uint64(1), e.Drops())

	e.Stop()
	assert.Equal(t, uint64(1), e.Drops())
	assert.Equal(t, cdFormat, e.Format())

	e.ResetDrops()
	assert.Equal(t, uint64(0), e.Drops())
}

func TestCloseIsIdempotent(t *testing.T) {
	dev := &mock.Device{}
	e, err := New(dev, silence(nil), Config{Format: cdFormat, Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, e.Start())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	assert.Equal(t, Stopped, e.State())
	assert.ErrorIs(t, e.Start(), ErrClosed)
	assert.Equal(t, 0, dev.Queued())
}
