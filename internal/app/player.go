// ABOUTME: Main player application orchestration
// ABOUTME: Wires source, device, engine, metrics and UI and runs them until shutdown
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmstream/internal/config"
	"github.com/Resonate-Protocol/pcmstream/internal/observe"
	"github.com/Resonate-Protocol/pcmstream/internal/ui"
	"github.com/Resonate-Protocol/pcmstream/internal/version"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output/device"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/source"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const statusInterval = 250 * time.Millisecond

// encodingCycle is the order the encoding key steps through
var encodingCycle = []audio.Encoding{audio.PCM16, audio.Float32, audio.PCM32, audio.PCM8}

// Config holds player configuration
type Config struct {
	Settings *config.Config
	UseTUI   bool
	Logger   *log.Logger

	// OpenDevice creates the output session (default: device.Open)
	OpenDevice func(backend string, opts device.Options) (device.Session, error)
}

// Player represents the main player application
type Player struct {
	config   Config
	settings *config.Config
	logger   *log.Logger

	dev      device.Session
	producer *source.Producer
	engine   *output.Engine
	metrics  *observe.Provider
	ctrl     *ui.TransportControl
	tuiProg  *tea.Program

	failures chan error
	cancel   context.CancelFunc
}

// New creates a new player
func New(cfg Config) *Player {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.OpenDevice == nil {
		cfg.OpenDevice = device.Open
	}
	return &Player{
		config:   cfg,
		settings: cfg.Settings,
		logger:   cfg.Logger,
		ctrl:     ui.NewTransportControl(),
		failures: make(chan error, 1),
	}
}

// Control returns the channel used to send transport commands
func (p *Player) Control() *ui.TransportControl {
	return p.ctrl
}

// Engine returns the output engine once Run has set it up
func (p *Player) Engine() *output.Engine {
	return p.engine
}

// setup opens every component. On error whatever was opened is released.
func (p *Player) setup() (err error) {
	defer func() {
		if err != nil {
			p.teardown()
		}
	}()

	s := p.settings
	format, err := s.Format.AudioFormat()
	if err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}

	src, err := source.Open(s.Source.Kind, s.Source.Path, s.Source.Frequency)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	p.producer = source.NewProducer(src)

	p.dev, err = p.config.OpenDevice(s.Device.Backend, device.Options{
		BufferSize:   s.Device.Latency,
		PeriodMillis: s.Device.PeriodMillis,
		Speed:        s.Device.Speed,
		Logger:       p.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s device: %w", s.Device.Backend, err)
	}

	engineCfg := s.Engine.EngineOptions()
	engineCfg.Format = format
	engineCfg.Logger = p.logger
	engineCfg.OnError = p.onEngineError

	if s.Metrics.Addr != "" {
		p.metrics, err = observe.NewProvider(version.Product, version.Version)
		if err != nil {
			return err
		}
		engineCfg.MeterProvider = p.metrics.MeterProvider
	}

	p.engine, err = output.New(p.dev, p.producer, engineCfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	return nil
}

func (p *Player) onEngineError(err error) {
	select {
	case p.failures <- err:
	default:
	}
}

// Run starts playback and blocks until ctx is cancelled, the user quits or
// the output device fails
func (p *Player) Run(ctx context.Context) error {
	if err := p.setup(); err != nil {
		return err
	}
	defer p.teardown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	title, artist, _ := p.producer.Source().Metadata()
	p.logger.Info("Starting playback",
		"version", version.Version, "device", p.settings.Device.Backend,
		"format", p.engine.Format(), "source", title, "artist", artist)

	if err := p.engine.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	if p.config.UseTUI {
		p.tuiProg = ui.Run(p.ctrl, p.settings.Device.Backend)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.commandLoop(gctx) })
	g.Go(func() error { return p.statusLoop(gctx) })

	if p.metrics != nil {
		g.Go(func() error { return p.metrics.Serve(gctx, p.settings.Metrics.Addr) })
	}

	if p.tuiProg != nil {
		g.Go(func() error {
			_, err := p.tuiProg.Run()
			cancel()
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			p.tuiProg.Quit()
			return nil
		})
	}

	return g.Wait()
}

// commandLoop applies transport commands and watches for device failure
func (p *Player) commandLoop(ctx context.Context) error {
	for {
		select {
		case cmd := <-p.ctrl.Commands:
			if p.handle(cmd) {
				p.cancel()
				return nil
			}
		case err := <-p.failures:
			if p.config.UseTUI {
				// the status line shows it; the user decides when to quit
				continue
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// handle applies one command and reports whether the player should exit
func (p *Player) handle(cmd ui.Command) bool {
	p.logger.Debug("Command", "cmd", cmd)
	switch cmd {
	case ui.CmdPlay:
		if err := p.engine.Start(); err != nil {
			p.logger.Error("Cannot start playback", "err", err)
		}
	case ui.CmdPause:
		p.engine.Pause()
	case ui.CmdStop:
		p.engine.Stop()
	case ui.CmdResetDrops:
		p.engine.ResetDrops()
	case ui.CmdCycleEncoding:
		p.cycleEncoding()
	case ui.CmdQuit:
		return true
	}
	return false
}

// cycleEncoding switches to the next encoding the device accepts
func (p *Player) cycleEncoding() {
	f := p.engine.Format()
	start := 0
	for i, enc := range encodingCycle {
		if enc == f.Encoding {
			start = i
		}
	}
	for n := 1; n < len(encodingCycle); n++ {
		next := f
		next.Encoding = encodingCycle[(start+n)%len(encodingCycle)]
		err := p.engine.SetFormat(next)
		if err == nil {
			return
		}
		p.logger.Debug("Skipping encoding", "encoding", next.Encoding, "err", err)
	}
	p.logger.Warn("Device accepts no other encoding", "format", f)
}

// statusLoop pushes engine state to the TUI, or logs new drops without one
func (p *Player) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	title, artist, album := p.producer.Source().Metadata()
	var lastDrops uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		stats := p.engine.Stats()
		if p.tuiProg != nil {
			msg := ui.StatusMsg{
				State:   p.engine.State(),
				Format:  p.engine.Format(),
				Backend: p.settings.Device.Backend,
				Title:   title,
				Artist:  artist,
				Album:   album,
				Stats:   stats,
			}
			if err := p.engine.Err(); err != nil {
				msg.Err = err.Error()
			}
			p.tuiProg.Send(msg)
			continue
		}

		if stats.Drops > lastDrops {
			p.logger.Warn("Dropouts", "total", stats.Drops, "queued", stats.Queued)
		}
		lastDrops = stats.Drops
	}
}

// teardown releases components in reverse order of setup
func (p *Player) teardown() {
	if p.engine != nil {
		_ = p.engine.Close()
		p.logger.Info("Playback finished", "drops", p.engine.Drops())
	}
	if p.dev != nil {
		if err := p.dev.Close(); err != nil {
			p.logger.Warn("Device close failed", "err", err)
		}
		p.dev = nil
	}
	if p.producer != nil {
		_ = p.producer.Close()
		p.producer = nil
	}
	if p.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := p.metrics.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("Metrics shutdown failed", "err", err)
		}
		p.metrics = nil
	}
}
