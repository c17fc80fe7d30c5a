package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// The Changed flags cover settings that are applied live. Sections that need
// a restart to take effect are listed in RestartRequired instead.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectorChanged is set when the primary detector, a fallback, or the
	// breaker settings changed. The detector chain is rebuilt and swapped in.
	DetectorChanged bool

	MinConfidenceChanged bool
	TorchChanged         bool
	FocusChanged         bool

	// RestartRequired names the sections whose change is ignored until the
	// process restarts.
	RestartRequired []string
}

// Empty reports whether d carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DetectorChanged && !d.MinConfidenceChanged &&
		!d.TorchChanged && !d.FocusChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Providers, new.Providers) ||
		old.Pipeline.DetectTimeout != new.Pipeline.DetectTimeout ||
		old.Pipeline.MaxFailures != new.Pipeline.MaxFailures ||
		old.Pipeline.ResetTimeout != new.Pipeline.ResetTimeout ||
		old.Pipeline.HalfOpenMax != new.Pipeline.HalfOpenMax {
		d.DetectorChanged = true
	}

	d.MinConfidenceChanged = old.Pipeline.MinConfidence != new.Pipeline.MinConfidence
	d.TorchChanged = old.Capture.Torch != new.Capture.Torch
	d.FocusChanged = old.Capture.FocusMode != new.Capture.FocusMode

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	oc, nc := old.Capture, new.Capture
	oc.Torch, nc.Torch = false, false
	oc.FocusMode, nc.FocusMode = "", ""
	if oc != nc {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Display != new.Display {
		d.RestartRequired = append(d.RestartRequired, "display")
	}
	if old.Permission != new.Permission {
		d.RestartRequired = append(d.RestartRequired, "permission")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}
