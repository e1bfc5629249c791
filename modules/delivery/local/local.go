// Package local delivers run results to the process's own stdout or to
// an append-only log file, for development and air-gapped deployments.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

func init() {
	core.RegisterModule(&Local{})
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Local)(nil)
	_ core.Configurable = (*Local)(nil)
	_ core.Provisioner  = (*Local)(nil)
	_ delivery.Channel  = (*Local)(nil)
)

// Config holds local delivery settings.
type Config struct {
	// DefaultLogDir anchors relative logfile paths. Empty uses the
	// app data directory.
	DefaultLogDir string `yaml:"default_log_dir"`
}

// Local implements the stdout and logfile channel types.
type Local struct {
	config Config
	logger *slog.Logger
	stdout io.Writer

	mu sync.Mutex // serializes file appends
}

// ModuleInfo implements core.Module.
func (l *Local) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "delivery.local",
		New: func() core.Module { return &Local{} },
	}
}

// Configure implements core.Configurable.
func (l *Local) Configure(node *yaml.Node) error {
	if err := node.Decode(&l.config); err != nil {
		return fmt.Errorf("local: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. Registers this channel for both
// the stdout and logfile types.
func (l *Local) Provision(ctx *core.AppContext) error {
	l.logger = ctx.Logger
	if l.stdout == nil {
		l.stdout = os.Stdout
	}
	if l.config.DefaultLogDir == "" {
		l.config.DefaultLogDir = ctx.DataDir
	}

	router, err := delivery.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := router.Register(string(job.ChannelStdout), l); err != nil {
		return err
	}
	return router.Register(string(job.ChannelLogFile), l)
}

// Deliver implements delivery.Channel.
func (l *Local) Deliver(_ context.Context, desc job.ChannelDescriptor, payload delivery.Payload) error {
	line, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("local: encoding payload: %w", err)
	}

	switch desc.Type {
	case job.ChannelStdout:
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, err := fmt.Fprintln(l.stdout, string(line)); err != nil {
			return fmt.Errorf("local: writing stdout: %w", err)
		}
		return nil

	case job.ChannelLogFile:
		return l.appendLine(desc.Path, line)

	default:
		return fmt.Errorf("local: unsupported channel type %q", desc.Type)
	}
}

func (l *Local) appendLine(path string, line []byte) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.config.DefaultLogDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("local: creating log dir: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("local: opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("local: appending to %s: %w", path, err)
	}
	return nil
}
