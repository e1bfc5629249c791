// Package sqlite implements the persistent SQLite-backed job store module.
// It uses modernc.org/sqlite (pure Go, no CGO) with WAL mode and a single
// write connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module wires the SQLite job store into the module lifecycle and
// publishes it under the "store.jobs" service name.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  *JobStore
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	st, db, err := Open(m.config.Path)
	if err != nil {
		return err
	}

	if !m.config.walEnabled() {
		if _, err := db.ExecContext(context.TODO(), "PRAGMA journal_mode=DELETE"); err != nil {
			_ = db.Close()
			return fmt.Errorf("sqlite: disable WAL: %w", err)
		}
	}

	m.db = db
	m.store = st

	ctx.RegisterService("store.jobs", m.store)

	m.logger.Info("sqlite job store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite job store stopping")
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the job store implementation.
func (m *Module) Store() *JobStore {
	return m.store
}
