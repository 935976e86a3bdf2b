// ABOUTME: Tests for player application orchestration
// ABOUTME: Tests setup, transport commands, encoding cycling and shutdown paths
package app

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Resonate-Protocol/pcmstream/internal/config"
	"github.com/Resonate-Protocol/pcmstream/internal/ui"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output/device"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output/mock"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSession adds Close to the mock device
type mockSession struct {
	*mock.Device
	closed bool
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

func testSettings() *config.Config {
	s := config.Default()
	s.Device.Backend = "virtual"
	s.Device.Speed = 8
	s.Engine.BufferFrames = 256
	s.Engine.PollInterval = time.Millisecond
	return s
}

func newTestPlayer(settings *config.Config, dev *mockSession) *Player {
	cfg := Config{
		Settings: settings,
		Logger:   log.New(io.Discard),
	}
	if dev != nil {
		cfg.OpenDevice = func(string, device.Options) (device.Session, error) {
			return dev, nil
		}
	}
	return New(cfg)
}

func TestNewPlayerDefaults(t *testing.T) {
	player := New(Config{})

	require.NotNil(t, player)
	assert.Equal(t, config.Default(), player.settings)
	assert.NotNil(t, player.Control())
	assert.Nil(t, player.Engine(), "engine is created by Run")
}

func TestRunQuitsOnCommand(t *testing.T) {
	player := newTestPlayer(testSettings(), nil)

	done := make(chan error, 1)
	go func() { done <- player.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	player.Control().Commands <- ui.CmdQuit

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("player did not quit")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	dev := &mockSession{Device: &mock.Device{}}
	player := newTestPlayer(testSettings(), dev)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, player.Run(ctx))
	assert.True(t, dev.closed, "device closed on shutdown")
	assert.Greater(t, dev.SubmissionCount(), 0)
	assert.Equal(t, output.Stopped, player.Engine().State())
}

func TestRunReturnsDeviceFailure(t *testing.T) {
	dev := &mockSession{Device: &mock.Device{SubmitError: mock.ErrRejected}}
	settings := testSettings()
	settings.Engine.MaxDeviceErrors = 2
	player := newTestPlayer(settings, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := player.Run(ctx)
	assert.ErrorIs(t, err, output.ErrDeviceFailed)
	assert.True(t, dev.closed)
}

func TestSetupFailures(t *testing.T) {
	settings := testSettings()
	settings.Source.Kind = "radio"
	assert.ErrorContains(t, newTestPlayer(settings, nil).Run(context.Background()), "failed to open source")

	settings = testSettings()
	player := New(Config{
		Settings: settings,
		Logger:   log.New(io.Discard),
		OpenDevice: func(string, device.Options) (device.Session, error) {
			return nil, errors.New("no sound card")
		},
	})
	err := player.Run(context.Background())
	assert.ErrorContains(t, err, "no sound card")
	assert.Nil(t, player.producer, "source released after failed setup")
}

func TestHandleTransportCommands(t *testing.T) {
	dev := &mockSession{Device: &mock.Device{}}
	player := newTestPlayer(testSettings(), dev)
	require.NoError(t, player.setup())
	defer player.teardown()

	eng := player.Engine()
	tests := []struct {
		cmd  ui.Command
		want output.State
	}{
		{ui.CmdPlay, output.Playing},
		{ui.CmdPause, output.Paused},
		{ui.CmdPlay, output.Playing},
		{ui.CmdStop, output.Stopped},
	}
	for _, tt := range tests {
		assert.False(t, player.handle(tt.cmd))
		assert.Equal(t, tt.want, eng.State(), "after %v", tt.cmd)
	}

	assert.False(t, player.handle(ui.CmdResetDrops))
	assert.Equal(t, uint64(0), eng.Drops())
	assert.True(t, player.handle(ui.CmdQuit))
}

func TestCycleEncodingSkipsRejected(t *testing.T) {
	dev := &mockSession{Device: &mock.Device{
		CheckFormatFunc: func(f audio.Format) error {
			if f.Encoding == audio.Float32 {
				return errors.New("no float output")
			}
			return nil
		},
	}}
	player := newTestPlayer(testSettings(), dev)
	require.NoError(t, player.setup())
	defer player.teardown()

	require.Equal(t, audio.PCM16, player.Engine().Format().Encoding)

	player.handle(ui.CmdCycleEncoding)
	assert.Equal(t, audio.PCM32, player.Engine().Format().Encoding)

	player.handle(ui.CmdCycleEncoding)
	assert.Equal(t, audio.PCM8, player.Engine().Format().Encoding)

	player.handle(ui.CmdCycleEncoding)
	assert.Equal(t, audio.PCM16, player.Engine().Format().Encoding)
}
