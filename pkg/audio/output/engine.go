// ABOUTME: Buffer-queueing output engine
// ABOUTME: Owns the buffer arena, transport state, format and drop counter
package output

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultBuffers         = 3
	MinBuffers             = 2
	DefaultBufferFrames    = 4096
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultProducerTimeout = 250 * time.Millisecond
	DefaultMaxDeviceErrors = 8
)

// Config holds engine configuration
type Config struct {
	// Format is the initial output format. Leave it as audio.Unset to
	// configure it later with SetFormat.
	Format audio.Format

	// Buffers is the number of buffers in the ring (default: 3, minimum: 2)
	Buffers int

	// BufferFrames is the capacity of each buffer in frames (default: 4096)
	BufferFrames int

	// PollInterval is how often the worker reclaims and refills (default: 10ms)
	PollInterval time.Duration

	// ProducerTimeout bounds a single producer call (default: 250ms).
	// A negative value calls the producer inline without a bound.
	ProducerTimeout time.Duration

	// MaxDeviceErrors is the number of consecutive submit failures after
	// which the device is considered gone (default: 8)
	MaxDeviceErrors int

	// Logger receives engine logs (default: log.Default())
	Logger *log.Logger

	// MeterProvider supplies metric instruments (default: the global provider)
	MeterProvider metric.MeterProvider

	// OnError is called from the worker when the device fails for good
	OnError func(error)
}

// Stats is a snapshot of engine counters
type Stats struct {
	Submitted        int64
	Reclaimed        int64
	FramesSubmitted  int64
	Drops            uint64
	ShortReads       int64
	EmptyReads       int64
	ProducerTimeouts int64
	ProducerErrors   int64
	DeviceErrors     int64
	Queued           int
	Free             int
}

// Engine streams PCM from a Producer to a Device
type Engine struct {
	id       string
	dev      Device
	producer Producer
	config   Config
	logger   *log.Logger
	metrics  *metrics

	mu            sync.Mutex
	state         State
	format        audio.Format
	pool          *pool
	gen           uint64
	warm          bool
	failure       error
	deviceErrRun  int
	closed        bool
	stats         Stats
	produceCtx    context.Context
	produceCancel context.CancelFunc

	// worker-only
	pending   chan produceResult
	completed []int

	drops atomic.Uint64

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	once    sync.Once
}

// New creates an engine for an already opened device and starts its worker.
// The caller keeps ownership of dev and closes it after Close returns.
func New(dev Device, producer Producer, config Config) (*Engine, error) {
	e, err := newEngine(dev, producer, config)
	if err != nil {
		return nil, err
	}
	e.started = true
	go e.run()
	return e, nil
}

// newEngine builds an engine without starting the worker
func newEngine(dev Device, producer Producer, config Config) (*Engine, error) {
	if producer == nil {
		return nil, ErrMissingProducer
	}
	if fn, ok := producer.(ProducerFunc); ok && fn == nil {
		return nil, ErrMissingProducer
	}
	if dev == nil {
		return nil, ErrMissingDevice
	}

	if config.Buffers == 0 {
		config.Buffers = DefaultBuffers
	}
	if config.Buffers < MinBuffers {
		return nil, fmt.Errorf("need at least %d buffers, got %d", MinBuffers, config.Buffers)
	}
	if config.BufferFrames == 0 {
		config.BufferFrames = DefaultBufferFrames
	}
	if config.BufferFrames < 0 {
		return nil, fmt.Errorf("buffer frames must be positive, got %d", config.BufferFrames)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ProducerTimeout == 0 {
		config.ProducerTimeout = DefaultProducerTimeout
	}
	if config.MaxDeviceErrors <= 0 {
		config.MaxDeviceErrors = DefaultMaxDeviceErrors
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.MeterProvider == nil {
		config.MeterProvider = otel.GetMeterProvider()
	}

	id := uuid.New().String()

	if config.Format.IsSet() {
		if err := checkFormat(dev, config.Format); err != nil {
			return nil, err
		}
	}

	met, err := newMetrics(config.MeterProvider, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		id:        id,
		dev:       dev,
		producer:  producer,
		config:    config,
		logger:    config.Logger.With("engine", id[:8]),
		metrics:   met,
		state:     Stopped,
		format:    config.Format,
		pool:      newPool(config.Buffers, config.BufferFrames),
		completed: make([]int, 0, config.Buffers),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	e.logger.Debug("Engine created",
		"buffers", config.Buffers, "frames", config.BufferFrames, "format", config.Format)

	return e, nil
}

// checkFormat validates f on its own and against the device's limits
func checkFormat(dev Device, f audio.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if checker, ok := dev.(FormatChecker); ok {
		if err := checker.CheckFormat(f); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}
	return nil
}

// ID returns the unique engine id used in logs and metrics
func (e *Engine) ID() string {
	return e.id
}

// SetFormat replaces the output format.
// While playing, the new format applies from the next submitted buffer;
// buffers already queued play out in the format they were submitted with.
func (e *Engine) SetFormat(f audio.Format) error {
	if err := checkFormat(e.dev, f); err != nil {
		e.logger.Warn("Rejected format", "format", f, "err", err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.format == f {
		return nil
	}
	e.logger.Info("Format changed", "from", e.format, "to", f, "state", e.state)
	e.format = f
	return nil
}

// Format returns the current format, or audio.Unset
func (e *Engine) Format() audio.Format {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.format
}

// State returns the transport state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start begins or resumes playback. Buffers still queued from a pause are kept.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.failure != nil {
		return e.failure
	}
	if !e.format.IsSet() {
		return ErrNoFormat
	}
	if e.state == Playing {
		return nil
	}

	from := e.state
	e.state = Playing
	e.gen++
	e.warm = false
	e.produceCtx, e.produceCancel = context.WithCancel(e.ctx)

	e.logger.Debug("Transport", "from", from, "to", Playing, "queued", e.pool.count(slotQueued))

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pause stops new submissions. Audio already queued keeps playing out.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Paused {
		return
	}
	from := e.state
	e.state = Paused
	e.gen++
	e.cancelProduceLocked()

	e.logger.Debug("Transport", "from", from, "to", Paused)
}

// Stop halts playback and reclaims every buffer from the device.
// The drop counter and the format are kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	if e.state == Stopped {
		return
	}
	from := e.state
	e.state = Stopped
	e.gen++
	e.warm = false
	e.cancelProduceLocked()

	if err := e.dev.Flush(); err != nil {
		e.logger.Warn("Device flush failed", "err", err)
	}
	queued, filling := e.pool.reset()

	e.logger.Debug("Transport", "from", from, "to", Stopped, "reclaimed", queued, "cancelled", filling)
}

func (e *Engine) cancelProduceLocked() {
	if e.produceCancel != nil {
		e.produceCancel()
		e.produceCancel = nil
	}
}

// Drops returns the number of underruns detected. It never blocks.
func (e *Engine) Drops() uint64 {
	return e.drops.Load()
}

// ResetDrops sets the drop counter back to zero
func (e *Engine) ResetDrops() {
	e.drops.Store(0)
}

// Stats returns a snapshot of engine counters
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Drops = e.drops.Load()
	s.Queued = e.pool.count(slotQueued)
	s.Free = e.pool.count(slotFree)
	return s
}

// Err returns the terminal device error, if the device has failed
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Close stops playback and the worker. The device is left open for the caller.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		e.stopLocked()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		if e.started {
			<-e.done
		}
		e.logger.Debug("Engine closed", "drops", e.drops.Load())
	})
	return nil
}
