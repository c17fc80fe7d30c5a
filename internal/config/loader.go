package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"detector": {"openai", "remote", "mock"},
	"capture":  {"push", "gocv"},
}

// Defaults applied by [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr  = ":8080"
	DefaultStoreBuffer = 64
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields that have a sensible default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.Device == "" {
		cfg.Capture.Device = "push"
	}
	if cfg.Capture.Facing == "" {
		cfg.Capture.Facing = string(types.FacingBack)
	}
	if cfg.Permission.Mode == "" {
		cfg.Permission.Mode = PermissionGranted
	}
	if cfg.Store.Buffer == 0 {
		cfg.Store.Buffer = DefaultStoreBuffer
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; must be one of debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateCapture(&cfg.Capture)...)

	if cfg.Display.Width <= 0 || cfg.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size %dx%d is invalid; width and height must be positive", cfg.Display.Width, cfg.Display.Height))
	}

	errs = append(errs, validateDetector("providers.detector", cfg.Providers.Detector)...)
	for i, fb := range cfg.Providers.Fallbacks {
		errs = append(errs, validateDetector(fmt.Sprintf("providers.fallbacks[%d]", i), fb)...)
	}

	if cfg.Permission.Mode != "" && !cfg.Permission.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("permission.mode %q is invalid; must be one of granted, denied, prompt", cfg.Permission.Mode))
	}

	p := cfg.Pipeline
	if p.DetectTimeout < 0 {
		errs = append(errs, errors.New("pipeline.detect_timeout must not be negative"))
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_confidence %v is out of range [0,1]", p.MinConfidence))
	}
	if p.MaxFailures < 0 || p.HalfOpenMax < 0 || p.ResetTimeout < 0 {
		errs = append(errs, errors.New("pipeline circuit breaker settings must not be negative"))
	}

	if cfg.Store.Buffer < 0 {
		errs = append(errs, errors.New("store.buffer must not be negative"))
	}

	return errors.Join(errs...)
}

func validateCapture(c *CaptureConfig) []error {
	var errs []error
	validateProviderName("capture", c.Device)
	if c.Width < 0 || c.Height < 0 {
		errs = append(errs, fmt.Errorf("capture size %dx%d must not be negative", c.Width, c.Height))
	}
	if c.Device == "push" && (c.Width == 0 || c.Height == 0) {
		errs = append(errs, errors.New("capture.width and capture.height are required for the push device"))
	}
	if c.FPS < 0 {
		errs = append(errs, errors.New("capture.fps must not be negative"))
	}
	if c.MaxZoom < 0 {
		errs = append(errs, errors.New("capture.max_zoom must not be negative"))
	}
	if !types.Facing(c.Facing).IsValid() {
		errs = append(errs, fmt.Errorf("capture.facing %q is invalid; must be back or front", c.Facing))
	}
	if !types.Rotation(c.Rotation).IsValid() {
		errs = append(errs, fmt.Errorf("capture.rotation %d is invalid; must be 0, 90, 180 or 270", c.Rotation))
	}
	if c.FocusMode != "" && !capture.FocusMode(c.FocusMode).IsValid() {
		errs = append(errs, fmt.Errorf("capture.focus_mode %q is invalid", c.FocusMode))
	}
	return errs
}

func validateDetector(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	validateProviderName("detector", e.Name)

	var errs []error
	switch e.Name {
	case "openai":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for openai", prefix))
		}
	case "remote":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for remote", prefix))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
