package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/executor"
	"github.com/ThirdKeyAI/symbiont-sched/internal/identity"
	"github.com/ThirdKeyAI/symbiont-sched/internal/policy"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
	"github.com/ThirdKeyAI/symbiont-sched/internal/session"
	"github.com/ThirdKeyAI/symbiont-sched/internal/store"
)

func init() {
	core.RegisterModule(&Module{})
}

// ServiceName is the registry key under which the dispatcher is
// published for the gateway and other modules.
const ServiceName = "dispatch"

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// IdentityConfig configures Ed25519 agent identity verification.
// Jobs with require_identity fail closed when no keys are trusted.
type IdentityConfig struct {
	// TrustedKeys are hex-encoded Ed25519 public keys.
	TrustedKeys []string `yaml:"trusted_keys,omitempty"`
	Issuer      string   `yaml:"issuer,omitempty"`
	Audience    string   `yaml:"audience,omitempty"`
}

// SessionConfig configures the execution context manager.
type SessionConfig struct {
	// ResetOnPause discards session state when a job is paused.
	// Defaults to true.
	ResetOnPause *bool `yaml:"reset_on_pause,omitempty"`

	// MaxSummaryLen caps carried-forward summaries, in runes.
	MaxSummaryLen int `yaml:"max_summary_len,omitempty"`
}

// ModuleConfig is the dispatcher's YAML configuration.
type ModuleConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval,omitempty"`
	MaxJitter         time.Duration `yaml:"max_jitter,omitempty"`
	GlobalMaxInFlight int           `yaml:"global_max_in_flight,omitempty"`
	DefaultMaxRetries int           `yaml:"default_max_retries,omitempty"`

	// ShutdownTimeout bounds the wait for in-flight runs on Stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// Capabilities granted to every execution context.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Timezone for policy allowed-hours evaluation. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty"`

	Identity IdentityConfig `yaml:"identity,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty"`
}

func (c *ModuleConfig) defaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Module wires the dispatcher into the module lifecycle.
type Module struct {
	config     ModuleConfig
	dispatcher *Dispatcher
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "dispatch",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("dispatch: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. Requires the "store.jobs"
// service; "delivery.router", "security.audit" and "executor" are
// optional, the last falling back to the built-in echo executor.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()

	svc, ok := ctx.Service("store.jobs")
	if !ok {
		return fmt.Errorf("dispatch: required service store.jobs not registered")
	}
	st, ok := svc.(store.Store)
	if !ok {
		return fmt.Errorf("dispatch: service store.jobs has unexpected type %T", svc)
	}

	var router *delivery.Router
	if svc, ok := ctx.Service(delivery.ServiceName); ok {
		router, _ = svc.(*delivery.Router)
	}
	var audit *security.AuditLogger
	if svc, ok := ctx.Service("security.audit"); ok {
		audit, _ = svc.(*security.AuditLogger)
	}

	var exec executor.Executor = executor.Echo{}
	if svc, ok := ctx.Service("executor"); ok {
		e, ok := svc.(executor.Executor)
		if !ok {
			return fmt.Errorf("dispatch: service executor has unexpected type %T", svc)
		}
		exec = e
	}

	loc := time.UTC
	if m.config.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(m.config.Timezone)
		if err != nil {
			return fmt.Errorf("dispatch: load timezone %q: %w", m.config.Timezone, err)
		}
	}

	var verifier *identity.Verifier
	if len(m.config.Identity.TrustedKeys) > 0 {
		v, err := identity.NewVerifier(identity.VerifyConfig{
			TrustedKeys: m.config.Identity.TrustedKeys,
			Issuer:      m.config.Identity.Issuer,
			Audience:    m.config.Identity.Audience,
		})
		if err != nil {
			return err
		}
		verifier = v
	}

	sessions := session.NewManager(session.Config{
		ResetOnPause:  m.config.Session.ResetOnPause,
		MaxSummaryLen: m.config.Session.MaxSummaryLen,
		Logger:        ctx.Logger,
	})

	gate := policy.NewGate(policy.Config{
		Environment: ctx.Environment,
		Timezone:    loc,
		Audit:       audit,
	})

	var registry prometheus.Registerer = prometheus.DefaultRegisterer
	if svc, ok := ctx.Service("metrics.registry"); ok {
		if r, ok := svc.(prometheus.Registerer); ok {
			registry = r
		}
	}

	m.dispatcher = New(Config{
		TickInterval:      m.config.TickInterval,
		MaxJitter:         m.config.MaxJitter,
		GlobalMaxInFlight: m.config.GlobalMaxInFlight,
		DefaultMaxRetries: m.config.DefaultMaxRetries,
		Capabilities:      m.config.Capabilities,
	}, Deps{
		Store:    st,
		Gate:     gate,
		Verifier: verifier,
		Sessions: sessions,
		Executor: exec,
		Router:   router,
		Audit:    audit,
		Logger:   ctx.Logger,
		Registry: registry,
	})

	ctx.RegisterService(ServiceName, m.dispatcher)

	ctx.Logger.Info("dispatcher provisioned",
		"tick_interval", m.dispatcher.cfg.TickInterval,
		"max_jitter", m.dispatcher.cfg.MaxJitter,
		"identity", verifier != nil,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.TickInterval < 0 {
		return fmt.Errorf("dispatch: tick_interval must not be negative")
	}
	if m.config.GlobalMaxInFlight < 0 {
		return fmt.Errorf("dispatch: global_max_in_flight must not be negative")
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	return m.dispatcher.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()
	return m.dispatcher.Stop(stopCtx)
}

// Dispatcher returns the running dispatcher.
func (m *Module) Dispatcher() *Dispatcher { return m.dispatcher }
