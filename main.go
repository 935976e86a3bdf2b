// ABOUTME: Entry point for the pcmstream player
// ABOUTME: Parses CLI flags over the YAML config and starts the player application
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/pcmstream/internal/app"
	"github.com/Resonate-Protocol/pcmstream/internal/config"
	"github.com/Resonate-Protocol/pcmstream/internal/version"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

const defaultLogFile = "pcmstream.log"

type options struct {
	configPath string
	noTUI      bool

	// settings receives flag values; only flags the user set are applied
	settings *config.Config
}

func main() {
	opts := &options{settings: config.Default()}
	if err := newRootCmd(opts).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	settings := opts.settings

	cmd := &cobra.Command{
		Use:     version.Product,
		Short:   "Stream generated or decoded PCM to an audio device",
		Version: version.Version,
		Long: `pcmstream plays a test tone, silence or an audio file through a small
ring of buffers and reports every dropout where the device ran dry.

Flags override values from the configuration file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts.configPath, settings)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, !opts.noTUI)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI, use streaming logs instead")
	f.StringVar(&settings.Device.Backend, "device", settings.Device.Backend, "Output backend: oto, malgo or virtual")
	f.StringVar(&settings.Source.Kind, "source", settings.Source.Kind, "Source kind: tone, silence or file")
	f.StringVar(&settings.Source.Path, "file", "", "Audio file or http(s) MP3 URL (implies --source file)")
	f.Float64Var(&settings.Source.Frequency, "frequency", settings.Source.Frequency, "Test tone frequency in Hz")
	f.IntVar(&settings.Format.Channels, "channels", settings.Format.Channels, "Output channels")
	f.IntVar(&settings.Format.SampleRate, "rate", settings.Format.SampleRate, "Output sample rate in Hz")
	f.StringVar(&settings.Format.Encoding, "encoding", settings.Format.Encoding, "Output encoding: pcm8, pcm16, pcm32 or float32")
	f.IntVar(&settings.Engine.Buffers, "buffers", settings.Engine.Buffers, "Number of buffers in the ring")
	f.IntVar(&settings.Engine.BufferFrames, "buffer-frames", settings.Engine.BufferFrames, "Frames per buffer")
	f.StringVar(&settings.Metrics.Addr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&settings.Log.File, "log-file", "", "Log file path (default "+defaultLogFile+" with the TUI)")
	f.StringVar(&settings.Log.Level, "log-level", settings.Log.Level, "Log level: debug, info, warn or error")

	return cmd
}

// resolveConfig loads the config file, if any, and applies the flags the
// user actually set on top of it
func resolveConfig(cmd *cobra.Command, path string, flags *config.Config) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("device") {
		cfg.Device.Backend = flags.Device.Backend
	}
	if changed("source") {
		cfg.Source.Kind = flags.Source.Kind
	}
	if changed("file") {
		cfg.Source.Path = flags.Source.Path
		if !changed("source") {
			cfg.Source.Kind = "file"
		}
	}
	if changed("frequency") {
		cfg.Source.Frequency = flags.Source.Frequency
	}
	if changed("channels") {
		cfg.Format.Channels = flags.Format.Channels
	}
	if changed("rate") {
		cfg.Format.SampleRate = flags.Format.SampleRate
	}
	if changed("encoding") {
		cfg.Format.Encoding = flags.Format.Encoding
	}
	if changed("buffers") {
		cfg.Engine.Buffers = flags.Engine.Buffers
	}
	if changed("buffer-frames") {
		cfg.Engine.BufferFrames = flags.Engine.BufferFrames
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = flags.Metrics.Addr
	}
	if changed("log-file") {
		cfg.Log.File = flags.Log.File
	}
	if changed("log-level") {
		cfg.Log.Level = flags.Log.Level
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, useTUI bool) error {
	logFile := cfg.Log.File
	if logFile == "" && useTUI {
		logFile = defaultLogFile
	}

	var out io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if useTUI {
			// TUI mode: log only to file
			out = f
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Prefix:          version.Product,
	})
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	player := app.New(app.Config{
		Settings: cfg,
		UseTUI:   useTUI,
		Logger:   logger,
	})
	if err := player.Run(ctx); err != nil {
		logger.Error("Player stopped", "err", err)
		return err
	}
	logger.Info("Player stopped")
	return nil
}
