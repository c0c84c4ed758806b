// Package config loads comfytile's YAML configuration.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default. Unknown keys are rejected so typos surface early.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/upscale"
)

// Config is the complete comfytile configuration.
type Config struct {
	Server   Server                 `yaml:"server"`
	Tiling   Tiling                 `yaml:"tiling"`
	Sampling upscale.SamplingParams `yaml:"sampling"`
	Tagger   Tagger                 `yaml:"tagger"`
	Upscale  UpscaleModel           `yaml:"upscale"`
	Cache    Cache                  `yaml:"cache"`
}

// Server locates the ComfyUI instance.
type Server struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
	Retry       int           `yaml:"retry"`
	Subfolder   string        `yaml:"subfolder"`
	KeepHistory bool          `yaml:"keep_history"`
}

// Tiling controls the upscale factor and the tile grid. Parts below one
// skip refinement and return the plain upscale.
type Tiling struct {
	Scale    float64             `yaml:"scale"`
	Parts    int                 `yaml:"parts"`
	Overlap  int                 `yaml:"overlap"`
	Family   upscale.ModelFamily `yaml:"family"`
	Workers  int                 `yaml:"workers"`
	Resample string              `yaml:"resample"`
	Positive string              `yaml:"positive"`
}

// Tagger configures per-tile captioning. Disabled, tiles are conditioned on
// Tiling.Positive alone.
type Tagger struct {
	Enabled            bool    `yaml:"enabled"`
	Model              string  `yaml:"model"`
	Threshold          float64 `yaml:"threshold"`
	CharacterThreshold float64 `yaml:"character_threshold"`
	ReplaceUnderscore  bool    `yaml:"replace_underscore"`
	Exclude            string  `yaml:"exclude"`
}

// UpscaleModel names the upscale model file. Empty skips the model and
// resamples straight to the requested scale.
type UpscaleModel struct {
	Model string `yaml:"model"`
}

// Cache selects the caption cache. An empty Path keeps captions in memory
// for the current run only.
type Cache struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := upscale.DefaultOptions()
	return &Config{
		Server: Server{
			Host:    "127.0.0.1",
			Port:    8188,
			Timeout: 5 * time.Minute,
			Retry:   3,
		},
		Tiling: Tiling{
			Scale:    opts.Scale,
			Parts:    opts.Parts,
			Overlap:  opts.Overlap,
			Family:   opts.Family,
			Workers:  opts.Workers,
			Resample: opts.Resample.String(),
		},
		Sampling: upscale.DefaultSamplingParams(),
		Tagger: Tagger{
			Enabled:            true,
			Model:              "wd-v1-4-moat-tagger-v2",
			Threshold:          0.35,
			CharacterThreshold: 0.85,
		},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// an empty document leaves the defaults
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Host != "", "server.host is required")
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.Timeout >= 0, "server.timeout must not be negative")
	check(c.Server.Retry >= 0, "server.retry must not be negative")

	check(c.Tiling.Scale > 0, "tiling.scale must be positive, got %v", c.Tiling.Scale)
	check(c.Tiling.Overlap >= 0, "tiling.overlap must not be negative, got %d", c.Tiling.Overlap)
	check(c.Tiling.Workers >= 1, "tiling.workers must be at least 1, got %d", c.Tiling.Workers)
	if _, err := imagebuf.ParseResampleMethod(c.Tiling.Resample); err != nil {
		errs = append(errs, fmt.Errorf("tiling.resample: %w", err))
	}

	check(c.Sampling.Steps > 0, "sampling.steps must be positive, got %d", c.Sampling.Steps)
	check(c.Sampling.CFG >= 0, "sampling.cfg must not be negative")
	check(c.Sampling.Denoise > 0 && c.Sampling.Denoise <= 1, "sampling.denoise must be in (0, 1], got %v", c.Sampling.Denoise)
	check(c.Sampling.SamplerName != "", "sampling.sampler_name is required")
	check(c.Sampling.Scheduler != "", "sampling.scheduler is required")

	if c.Tagger.Enabled {
		check(c.Tagger.Model != "", "tagger.model is required when the tagger is enabled")
		check(c.Tagger.Threshold >= 0 && c.Tagger.Threshold <= 1, "tagger.threshold must be in [0, 1]")
		check(c.Tagger.CharacterThreshold >= 0 && c.Tagger.CharacterThreshold <= 1, "tagger.character_threshold must be in [0, 1]")
	}
	return errors.Join(errs...)
}

// Options converts the tiling and sampling sections into pipeline options.
func (c *Config) Options() upscale.Options {
	method, err := imagebuf.ParseResampleMethod(c.Tiling.Resample)
	if err != nil {
		method = imagebuf.CatmullRom
	}
	return upscale.Options{
		Scale:    c.Tiling.Scale,
		Parts:    c.Tiling.Parts,
		Overlap:  c.Tiling.Overlap,
		Family:   c.Tiling.Family,
		Workers:  c.Tiling.Workers,
		Resample: method,
		Positive: c.Tiling.Positive,
		Sampling: c.Sampling,
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
