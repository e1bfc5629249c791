// Package app provides the shared entry point for the symsched binary:
// config resolution, logger and security wiring, module loading, and the
// signal-driven main loop.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThirdKeyAI/symbiont-sched/internal/config"
	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the config's data directory.
	DataDir string

	// Signals overrides the signal set the loop waits on. Used in tests;
	// defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// Run loads configuration, starts all configured modules, and blocks until
// a shutdown signal is received.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// Credential store and redactor first so no secret ever reaches a log line.
	credStore := security.NewCredentialStore()
	redactor := security.NewRedactor()
	logger := buildLogger(cfg.Log, redactor)

	auditLogger := security.NewAuditLogger(security.AuditLoggerConfig{
		Writer:   os.Stdout,
		Redactor: redactor,
	})

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("app: creating data dir: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx = appCtx.WithEnvironment(cfg.Environment)

	// Security and observability services for cross-module discovery.
	appCtx.RegisterService("security.credentials", credStore)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("security.audit", auditLogger)

	registry := prometheus.NewRegistry()
	appCtx.RegisterService("metrics.registry", registry)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}
	logger.Info("scheduler started",
		"version", params.Version,
		"modules", len(ids),
		"environment", cfg.Environment)

	// Secrets registered by modules during Start become redaction literals.
	redactor.SyncCredentials(credStore)

	signals := params.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())
	application.Stop()
	logger.Info("shutdown complete")
	return nil
}

// buildLogger constructs the root slog logger from the log config, wrapping
// the handler so every string attribute passes through the redactor.
func buildLogger(cfg config.LogConfig, redactor *security.Redactor) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor))
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/symsched/symsched.yaml →
// ~/.config/symsched/symsched.yaml → ./symsched.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "symsched", "symsched.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "symsched", "symsched.yaml"))
	}

	candidates = append(candidates, "symsched.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/symsched if set, otherwise ~/.local/share/symsched.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "symsched")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "symsched")
}
