// ABOUTME: Real-time simulated output device with no audio hardware
// ABOUTME: Consumes queued frames at the stream's sample rate and can tee PCM to a writer
package device

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/charmbracelet/log"
)

const (
	defaultVirtualTick = 5 * time.Millisecond
	virtualScratch     = 64 << 10
)

// VirtualConfig holds virtual device configuration
type VirtualConfig struct {
	// Speed scales the playback clock (default: 1, real time)
	Speed float64

	// Tick is how often the simulated hardware pulls audio (default: 5ms)
	Tick time.Duration

	// Sink receives every pulled byte, silence included. Optional.
	Sink io.Writer

	// Logger receives device logs (default: log.Default())
	Logger *log.Logger
}

// Virtual plays queued buffers against a wall clock.
// It is useful for headless runs, CI and deterministic latency checks.
type Virtual struct {
	config VirtualConfig
	logger *log.Logger
	q      *queue

	mu      sync.Mutex
	format  audio.Format // format of the buffer played last
	carry   float64      // playback time owed from the previous tick, in seconds
	scratch []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewVirtual creates a virtual device and starts its clock
func NewVirtual(config VirtualConfig) *Virtual {
	if config.Speed <= 0 {
		config.Speed = 1
	}
	if config.Tick <= 0 {
		config.Tick = defaultVirtualTick
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &Virtual{
		config: config,
		logger: config.Logger.With("device", "virtual"),
		q:      newQueue(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if config.Sink != nil {
		v.scratch = make([]byte, virtualScratch)
	}
	go v.clock()
	return v
}

// Submit implements output.Device
func (v *Virtual) Submit(id int, data []byte, format audio.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if len(data)%format.FrameSize() != 0 {
		return fmt.Errorf("buffer %d holds a partial frame", id)
	}
	select {
	case <-v.ctx.Done():
		return fmt.Errorf("virtual device closed")
	default:
	}

	return v.q.push(id, data, format)
}

// PollCompleted implements output.Device
func (v *Virtual) PollCompleted(dst []int) []int {
	return v.q.poll(dst)
}

// Queued implements output.Device
func (v *Virtual) Queued() int {
	return v.q.queued()
}

// Flush implements output.Device
func (v *Virtual) Flush() error {
	n := v.q.flush()
	v.logger.Debug("Flushed", "buffers", n)
	return nil
}

// Completions implements output.Notifier
func (v *Virtual) Completions() <-chan struct{} {
	return v.q.notify
}

// Played returns how many bytes of submitted audio and of padding silence
// the simulated hardware has consumed
func (v *Virtual) Played() (audioBytes, silenceBytes uint64) {
	return v.q.counters()
}

// Close stops the clock
func (v *Virtual) Close() error {
	v.once.Do(func() {
		v.cancel()
		<-v.done
	})
	return nil
}

func (v *Virtual) clock() {
	defer close(v.done)

	ticker := time.NewTicker(v.config.Tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-v.ctx.Done():
			return
		case now := <-ticker.C:
			v.advance(now.Sub(last))
			last = now
		}
	}
}

// advance plays what the hardware would have played in d. Each buffer is
// consumed at its own format, so buffers queued before a format change
// drain at their original rate. When nothing is queued the device plays
// silence in the format it played last.
func (v *Virtual) advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secs := v.carry + d.Seconds()*v.config.Speed
	idle := false
	for secs > 0 {
		format, n, used, ok := v.q.take(v.scratch, secs)
		if !ok {
			idle = true
			break
		}
		if format != v.format {
			v.logger.Debug("Stream format", "format", format)
			v.format = format
		}
		if n == 0 {
			// less than one frame of time left
			break
		}
		secs -= used
		v.write(v.scratch[:n])
	}

	if idle {
		secs = v.playSilence(secs)
	}
	v.carry = max(secs, 0)
}

// playSilence pads secs of silence in the last played format and returns
// the time left over that was shorter than one frame
func (v *Virtual) playSilence(secs float64) float64 {
	if !v.format.IsSet() {
		return 0
	}
	rate := float64(v.format.SampleRate)
	frames := int(secs*rate + frameEpsilon)
	if frames == 0 {
		return secs
	}
	n := v.format.BytesForFrames(frames)
	v.q.starve(n)

	if v.scratch != nil {
		fill := audio.SilenceByte(v.format.Encoding)
		for left := n; left > 0; {
			c := min(left, len(v.scratch))
			c -= c % v.format.FrameSize()
			if c == 0 {
				break
			}
			chunk := v.scratch[:c]
			for i := range chunk {
				chunk[i] = fill
			}
			v.write(chunk)
			left -= c
		}
	}
	return secs - float64(frames)/rate
}

func (v *Virtual) write(p []byte) {
	if v.config.Sink == nil || len(p) == 0 {
		return
	}
	if _, err := v.config.Sink.Write(p); err != nil {
		v.logger.Warn("Sink write failed", "err", err)
	}
}
