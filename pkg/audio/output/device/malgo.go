// ABOUTME: Malgo-based output device with 8/16/32-bit and float support
// ABOUTME: Serves queued buffers from the miniaudio data callback and reopens on format change
package device

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// MalgoConfig holds malgo device configuration
type MalgoConfig struct {
	// PeriodMillis is the hardware period requested from miniaudio (default: backend choice)
	PeriodMillis uint32

	// Logger receives device logs (default: log.Default())
	Logger *log.Logger
}

// Malgo plays through miniaudio. Unlike oto it can reopen the hardware
// device, so a format change is applied once the buffers queued in the
// previous format have played out; until then Submit reports
// output.ErrDeviceBusy.
type Malgo struct {
	config MalgoConfig
	logger *log.Logger
	q      *queue

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	closed   bool
}

// NewMalgo initializes a miniaudio context. The playback device is opened on
// the first Submit.
func NewMalgo(config MalgoConfig) (*Malgo, error) {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	logger := config.Logger.With("device", "malgo")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "msg", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	return &Malgo{
		config:   config,
		logger:   logger,
		q:        newQueue(),
		malgoCtx: ctx,
	}, nil
}

func malgoFormat(enc audio.Encoding) (malgo.FormatType, bool) {
	switch enc {
	case audio.PCM8:
		return malgo.FormatU8, true
	case audio.PCM16:
		return malgo.FormatS16, true
	case audio.PCM32:
		return malgo.FormatS32, true
	case audio.Float32:
		return malgo.FormatF32, true
	default:
		return malgo.FormatUnknown, false
	}
}

// CheckFormat implements output.FormatChecker
func (m *Malgo) CheckFormat(f audio.Format) error {
	if _, ok := malgoFormat(f.Encoding); !ok {
		return fmt.Errorf("malgo does not support %s samples", f.Encoding)
	}
	return nil
}

// Submit implements output.Device
func (m *Malgo) Submit(id int, data []byte, format audio.Format) error {
	if err := m.CheckFormat(format); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("malgo device closed")
	}

	if m.device == nil || m.format != format {
		if m.device != nil && m.q.queued() > 0 {
			return output.ErrDeviceBusy
		}
		if err := m.openDevice(format); err != nil {
			return err
		}
	}

	return m.q.push(id, data, format)
}

// openDevice (re)creates the playback device for format (must hold m.mu)
func (m *Malgo) openDevice(format audio.Format) error {
	if m.device != nil {
		m.logger.Info("Format change, reinitializing device", "from", m.format, "to", format)
		m.closeDevice()
	}

	sampleFormat, _ := malgoFormat(format.Encoding)
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = sampleFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = m.config.PeriodMillis
	deviceConfig.Alsa.NoMMap = 1

	silence := audio.SilenceByte(format.Encoding)
	frameSize := format.FrameSize()
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount) * frameSize
			if n > len(pOutput) {
				n = len(pOutput)
			}
			m.q.pull(pOutput[:n], n, silence)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	m.format = format
	m.logger.Info("Audio output initialized", "format", format)
	return nil
}

// closeDevice stops and releases the playback device (must hold m.mu)
func (m *Malgo) closeDevice() {
	if m.device == nil {
		return
	}
	if err := m.device.Stop(); err != nil {
		m.logger.Warn("Device stop error", "err", err)
	}
	m.device.Uninit()
	m.device = nil
}

// PollCompleted implements output.Device
func (m *Malgo) PollCompleted(dst []int) []int {
	return m.q.poll(dst)
}

// Queued implements output.Device
func (m *Malgo) Queued() int {
	return m.q.queued()
}

// Flush implements output.Device
func (m *Malgo) Flush() error {
	m.q.flush()
	return nil
}

// Completions implements output.Notifier
func (m *Malgo) Completions() <-chan struct{} {
	return m.q.notify
}

// Close releases the device and the miniaudio context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.q.flush()
	m.closeDevice()

	if err := m.malgoCtx.Uninit(); err != nil {
		m.logger.Warn("Context uninit error", "err", err)
	}
	m.malgoCtx.Free()
	return nil
}
