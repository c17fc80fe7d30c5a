// Command visiond is the main entry point for the visiond detection server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/makeabledk/firebasevision/internal/app"
	"github.com/makeabledk/firebasevision/internal/config"
	"github.com/makeabledk/firebasevision/internal/observe"
	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/capture/gocv"
	"github.com/makeabledk/firebasevision/pkg/provider/detector"
	"github.com/makeabledk/firebasevision/pkg/provider/detector/openai"
	"github.com/makeabledk/firebasevision/pkg/provider/detector/remote"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	activate := flag.Bool("activate", false, "activate the owner at startup instead of waiting for POST /lifecycle/activate")
	watch := flag.Duration("watch", 5*time.Second, "config file polling interval; 0 disables reloading")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "visiond: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "visiond: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("visiond starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelProviders, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg,
		app.WithMetricsHandler(otelProviders.MetricsHandler()),
		app.WithLevelVar(level),
		app.WithAutoActivate(*activate),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	var tasks []app.Task
	if *watch > 0 {
		watcher, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithInterval(*watch))
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			_ = application.Shutdown(context.Background())
			return 1
		}
		tasks = append(tasks, watcher.Run)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx, tasks...); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders lists the implementations that ship with visiond. Used for
// startup logging.
var builtinProviders = map[string][]string{
	"detector": {"openai", "remote"},
	"capture":  {"push", "gocv"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Detectors ─────────────────────────────────────────────────────────────

	reg.RegisterDetector("openai", func(entry config.ProviderEntry) (detector.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if s := optString(entry.Options, "instruction"); s != "" {
			opts = append(opts, openai.WithInstruction(s))
		}
		if s := optString(entry.Options, "detail"); s != "" {
			opts = append(opts, openai.WithDetail(s))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterDetector("remote", func(entry config.ProviderEntry) (detector.Provider, error) {
		var opts []remote.Option
		if entry.APIKey != "" {
			opts = append(opts, remote.WithToken(entry.APIKey))
		}
		if d := optDuration(entry.Options, "dial_timeout"); d > 0 {
			opts = append(opts, remote.WithDialTimeout(d))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("push", func(c config.CaptureConfig) (capture.Device, error) {
		return capture.NewPush(capture.PushConfig{
			PreviewSize: types.Size{Width: c.Width, Height: c.Height},
			Facing:      types.Facing(c.Facing),
			MaxZoom:     c.MaxZoom,
			Torch:       c.Torch,
		}), nil
	})

	reg.RegisterCapture("gocv", func(c config.CaptureConfig) (capture.Device, error) {
		opts := []gocv.Option{
			gocv.WithFacing(types.Facing(c.Facing)),
			gocv.WithMaxZoom(c.MaxZoom),
			gocv.WithRotation(types.Rotation(c.Rotation)),
			gocv.WithFPS(c.FPS),
		}
		if c.Width > 0 && c.Height > 0 {
			opts = append(opts, gocv.WithSize(types.Size{Width: c.Width, Height: c.Height}))
		}
		return gocv.New(captureSource(c.Source), opts...), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// captureSource turns a numeric source into a camera index and leaves file
// names and URLs alone. An empty source is the default camera.
func captureSource(s string) any {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         visiond startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Detector", cfg.Providers.Detector.Name, cfg.Providers.Detector.Model)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.Fallbacks))
	printProvider("Capture", cfg.Capture.Device, "")
	fmt.Printf("║  Display         : %-19s ║\n", fmt.Sprintf("%dx%d", cfg.Display.Width, cfg.Display.Height))
	fmt.Printf("║  Permission      : %-19s ║\n", cfg.Permission.Mode)
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Detection log   : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Detection log   : %-19s ║\n", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration option such as "10s". Invalid values yield
// zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
