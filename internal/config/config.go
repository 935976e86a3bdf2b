// ABOUTME: Player configuration schema and defaults
// ABOUTME: Groups device, engine, format, source, metrics and logging settings
package config

import (
	"time"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio"
	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
)

// Config is the top-level configuration loaded from YAML
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Engine  EngineConfig  `yaml:"engine"`
	Format  FormatConfig  `yaml:"format"`
	Source  SourceConfig  `yaml:"source"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// DeviceConfig selects the output backend
type DeviceConfig struct {
	// Backend is one of oto, malgo or virtual
	Backend string `yaml:"backend"`

	// Latency is the hardware buffer requested from oto
	Latency time.Duration `yaml:"latency"`

	// PeriodMillis is the hardware period requested from malgo
	PeriodMillis uint32 `yaml:"period_ms"`

	// Speed scales the virtual device clock
	Speed float64 `yaml:"speed"`
}

// EngineConfig mirrors output.Config
type EngineConfig struct {
	Buffers         int           `yaml:"buffers"`
	BufferFrames    int           `yaml:"buffer_frames"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ProducerTimeout time.Duration `yaml:"producer_timeout"`
	MaxDeviceErrors int           `yaml:"max_device_errors"`
}

// FormatConfig is the initial output format
type FormatConfig struct {
	Channels   int    `yaml:"channels"`
	SampleRate int    `yaml:"sample_rate"`
	Encoding   string `yaml:"encoding"`
}

// SourceConfig selects what is played
type SourceConfig struct {
	// Kind is one of tone, silence or file
	Kind string `yaml:"kind"`

	// Path is a local file or http(s) URL for kind file
	Path string `yaml:"path"`

	// Frequency is the test tone pitch in Hz
	Frequency float64 `yaml:"frequency"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// LogConfig controls logging
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend: "oto",
			Speed:   1,
		},
		Engine: EngineConfig{
			Buffers:         output.DefaultBuffers,
			BufferFrames:    output.DefaultBufferFrames,
			PollInterval:    output.DefaultPollInterval,
			ProducerTimeout: output.DefaultProducerTimeout,
			MaxDeviceErrors: output.DefaultMaxDeviceErrors,
		},
		Format: FormatConfig{
			Channels:   2,
			SampleRate: 48000,
			Encoding:   "pcm16",
		},
		Source: SourceConfig{
			Kind:      "tone",
			Frequency: 440,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// AudioFormat converts the format section to an audio.Format
func (c FormatConfig) AudioFormat() (audio.Format, error) {
	enc, err := audio.ParseEncoding(c.Encoding)
	if err != nil {
		return audio.Unset, err
	}
	f := audio.Format{Channels: c.Channels, SampleRate: c.SampleRate, Encoding: enc}
	return f, f.Validate()
}

// EngineOptions converts the engine section to an output.Config without
// format, logger or callbacks
func (c EngineConfig) EngineOptions() output.Config {
	return output.Config{
		Buffers:         c.Buffers,
		BufferFrames:    c.BufferFrames,
		PollInterval:    c.PollInterval,
		ProducerTimeout: c.ProducerTimeout,
		MaxDeviceErrors: c.MaxDeviceErrors,
	}
}
