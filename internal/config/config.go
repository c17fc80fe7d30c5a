// Package config provides the configuration schema, loader, and provider
// registry for the visiond detection service.
package config

import "time"

// LogLevel controls log verbosity for the visiond server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// PermissionMode selects how camera permission is answered.
type PermissionMode string

const (
	// PermissionGranted answers every request with a grant.
	PermissionGranted PermissionMode = "granted"

	// PermissionDenied answers every request with a denial.
	PermissionDenied PermissionMode = "denied"

	// PermissionPrompt parks requests until a client answers through the
	// HTTP API.
	PermissionPrompt PermissionMode = "prompt"
)

// IsValid reports whether m is a recognised permission mode.
func (m PermissionMode) IsValid() bool {
	switch m {
	case PermissionGranted, PermissionDenied, PermissionPrompt:
		return true
	}
	return false
}

// Config is the root configuration structure for visiond.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Capture    CaptureConfig    `yaml:"capture"`
	Display    DisplayConfig    `yaml:"display"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Permission PermissionConfig `yaml:"permission"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Store      StoreConfig      `yaml:"store"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to TLS certificate and key files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CaptureConfig selects and tunes the capture device.
type CaptureConfig struct {
	// Device names the capture implementation ("push" or "gocv").
	Device string `yaml:"device"`

	// Source is the gocv capture source: a camera index ("0") or a file/URL.
	Source string `yaml:"source"`

	// Width and Height request a preview size. For push devices they are the
	// size producers send.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FPS caps the read rate of polling devices.
	FPS int `yaml:"fps"`

	// Facing is "back" (default) or "front". Front cameras are mirrored.
	Facing string `yaml:"facing"`

	// Rotation is the clockwise rotation, in degrees, reported with each gocv
	// frame. Detector boxes are turned upright by it when mapped to the display.
	Rotation int `yaml:"rotation"`

	// MaxZoom is the highest zoom level. Zero disables zoom.
	MaxZoom int `yaml:"max_zoom"`

	// Torch switches the torch on at start.
	Torch bool `yaml:"torch"`

	// FocusMode is applied at start when set.
	FocusMode string `yaml:"focus_mode"`
}

// DisplayConfig describes the surface the overlay is drawn on.
type DisplayConfig struct {
	Width    int  `yaml:"width"`
	Height   int  `yaml:"height"`
	Portrait bool `yaml:"portrait"`
}

// ProviderEntry is the common configuration block for any pluggable provider.
// The Name field selects the registered implementation.
type ProviderEntry struct {
	// Name is the registered provider identifier (e.g., "openai", "remote").
	Name string `yaml:"name"`

	// APIKey is the authentication credential. Prefer environment variables or
	// a secrets manager over embedding keys in config files.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the remote
	// detector it is the ws:// or wss:// URL of the inference server.
	BaseURL string `yaml:"base_url"`

	// Model selects the model variant (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific key/value pairs not covered by the
	// common fields above.
	Options map[string]any `yaml:"options"`
}

// ProvidersConfig selects the detector and its fallbacks.
type ProvidersConfig struct {
	Detector ProviderEntry `yaml:"detector"`

	// Fallbacks are tried in order when the primary detector fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// PermissionConfig configures the permission source.
type PermissionConfig struct {
	Mode PermissionMode `yaml:"mode"`
}

// PipelineConfig tunes the detection gate and the detector circuit breakers.
type PipelineConfig struct {
	// DetectTimeout bounds a single detection. Zero means no limit.
	DetectTimeout time.Duration `yaml:"detect_timeout"`

	// MinConfidence drops scored detections below the threshold.
	MinConfidence float64 `yaml:"min_confidence"`

	// MaxFailures is the number of consecutive detector failures that open
	// the circuit breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int `yaml:"half_open_max"`
}

// StoreConfig configures the optional detection log.
type StoreConfig struct {
	// PostgresDSN enables the Postgres detection log when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Buffer is the number of results queued for writing before new ones
	// are dropped.
	Buffer int `yaml:"buffer"`
}
