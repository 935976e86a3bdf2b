// ABOUTME: YAML configuration loading and validation
// ABOUTME: Decodes over the defaults with strict field checking and joins all validation errors
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/Resonate-Protocol/pcmstream/pkg/audio/output"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

var (
	validBackends    = []string{"oto", "malgo", "virtual"}
	validSourceKinds = []string{"tone", "silence", "file"}
)

// Load reads the YAML configuration file at path and returns a validated Config
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default and validates the result.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !slices.Contains(validBackends, strings.ToLower(cfg.Device.Backend)) {
		errs = append(errs, fmt.Errorf("device.backend %q is invalid; valid values: %s",
			cfg.Device.Backend, strings.Join(validBackends, ", ")))
	}
	if cfg.Device.Latency < 0 {
		errs = append(errs, fmt.Errorf("device.latency must not be negative"))
	}
	if cfg.Device.Speed < 0 {
		errs = append(errs, fmt.Errorf("device.speed must not be negative"))
	}

	if cfg.Engine.Buffers != 0 && cfg.Engine.Buffers < output.MinBuffers {
		errs = append(errs, fmt.Errorf("engine.buffers must be at least %d, got %d", output.MinBuffers, cfg.Engine.Buffers))
	}
	if cfg.Engine.BufferFrames < 0 {
		errs = append(errs, fmt.Errorf("engine.buffer_frames must not be negative"))
	}
	if cfg.Engine.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.poll_interval must not be negative"))
	}
	if cfg.Engine.MaxDeviceErrors < 0 {
		errs = append(errs, fmt.Errorf("engine.max_device_errors must not be negative"))
	}

	if _, err := cfg.Format.AudioFormat(); err != nil {
		errs = append(errs, fmt.Errorf("format: %w", err))
	}

	if !slices.Contains(validSourceKinds, strings.ToLower(cfg.Source.Kind)) {
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: %s",
			cfg.Source.Kind, strings.Join(validSourceKinds, ", ")))
	}
	if strings.EqualFold(cfg.Source.Kind, "file") && cfg.Source.Path == "" {
		errs = append(errs, fmt.Errorf("source.path is required for kind file"))
	}
	if cfg.Source.Frequency < 0 {
		errs = append(errs, fmt.Errorf("source.frequency must not be negative"))
	}

	if cfg.Log.Level != "" {
		if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error, fatal", cfg.Log.Level))
		}
	}

	return errors.Join(errs...)
}
