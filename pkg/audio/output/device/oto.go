// ABOUTME: Oto-based output device
// ABOUTME: Feeds queued buffers to a persistent oto player through a pull reader
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// OtoConfig holds oto device configuration
type OtoConfig struct {
	// BufferSize is oto's own hardware buffer (default: oto's choice)
	BufferSize time.Duration

	// Logger receives device logs (default: log.Default())
	Logger *log.Logger
}

// Oto plays through the platform's default output using oto.
//
// oto allows one context per process and cannot change its format, so the
// device binds to the format of the first submitted buffer and rejects any
// other format afterwards. A buffer is reported complete once oto has pulled
// its last byte into its own hardware buffer.
type Oto struct {
	config OtoConfig
	logger *log.Logger
	q      *queue

	mu      sync.Mutex
	otoCtx  *oto.Context
	player  *oto.Player
	format  audio.Format
	silence byte
	closed  bool
}

// NewOto creates an oto device. The oto context is created on first Submit.
func NewOto(config OtoConfig) *Oto {
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Oto{
		config: config,
		logger: config.Logger.With("device", "oto"),
		q:      newQueue(),
	}
}

func otoFormat(enc audio.Encoding) (oto.Format, bool) {
	switch enc {
	case audio.PCM8:
		return oto.FormatUnsignedInt8, true
	case audio.PCM16:
		return oto.FormatSignedInt16LE, true
	case audio.Float32:
		return oto.FormatFloat32LE, true
	default:
		return 0, false
	}
}

// CheckFormat implements output.FormatChecker
func (o *Oto) CheckFormat(f audio.Format) error {
	if _, ok := otoFormat(f.Encoding); !ok {
		return fmt.Errorf("oto does not support %s samples", f.Encoding)
	}
	if f.Channels > 2 {
		return fmt.Errorf("oto supports at most 2 channels, got %d", f.Channels)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.format.IsSet() && o.format != f {
		return fmt.Errorf("oto is bound to %s and cannot switch to %s", o.format, f)
	}
	return nil
}

// Submit implements output.Device
func (o *Oto) Submit(id int, data []byte, format audio.Format) error {
	if err := o.CheckFormat(format); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("oto device closed")
	}
	if o.otoCtx == nil {
		if err := o.open(format); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()

	return o.q.push(id, data, format)
}

// open creates the oto context and a player that never runs dry (must hold o.mu)
func (o *Oto) open(format audio.Format) error {
	enc, _ := otoFormat(format.Encoding)
	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       enc,
		BufferSize:   o.config.BufferSize,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o.otoCtx = ctx
	o.format = format
	o.silence = audio.SilenceByte(format.Encoding)
	o.player = ctx.NewPlayer(otoReader{o})
	o.player.Play()

	o.logger.Info("Audio output initialized", "format", format)
	return nil
}

// otoReader is the pull side handed to the oto player
type otoReader struct {
	o *Oto
}

func (r otoReader) Read(p []byte) (int, error) {
	r.o.q.pull(p, len(p), r.o.silence)
	return len(p), nil
}

// PollCompleted implements output.Device
func (o *Oto) PollCompleted(dst []int) []int {
	return o.q.poll(dst)
}

// Queued implements output.Device
func (o *Oto) Queued() int {
	return o.q.queued()
}

// Flush implements output.Device
func (o *Oto) Flush() error {
	o.q.flush()
	return nil
}

// Completions implements output.Notifier
func (o *Oto) Completions() <-chan struct{} {
	return o.q.notify
}

// Close releases the player and suspends the oto context
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.q.flush()

	var err error
	if o.player != nil {
		err = o.player.Close()
		o.player = nil
	}
	if o.otoCtx != nil {
		if serr := o.otoCtx.Suspend(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
