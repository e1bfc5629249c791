// Package gateway provides the HTTP administration surface for the
// scheduler: job CRUD and lifecycle operations, run history, approvals,
// health and status reporting, Prometheus metrics, a run-event WebSocket
// stream, and HMAC-authenticated inbound trigger hooks. It binds to
// loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/dispatch"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Gateway is the HTTP gateway module. It is a leaf module, resolving the
// dispatcher from the service registry at Start.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	hooks     *HookDispatcher
	limiter   *security.RateLimiter
	audit     *security.AuditLogger
	gatherer  prometheus.Gatherer
	startedAt time.Time

	// dispatcher is resolved lazily at Start() via the service registry.
	dispatcher *dispatch.Dispatcher
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = &Metrics{}

	if svc, ok := ctx.Service("security.audit"); ok {
		g.audit, _ = svc.(*security.AuditLogger)
	}
	if svc, ok := ctx.Service("metrics.registry"); ok {
		g.gatherer, _ = svc.(prometheus.Gatherer)
	}

	// Register the gateway's secrets so the redactor keeps them out of
	// log output once credentials are synced.
	if svc, ok := ctx.Service("security.credentials"); ok {
		if creds, ok := svc.(*security.CredentialStore); ok {
			if g.config.Auth.BearerToken != "" {
				creds.Set("gateway.bearer_token", g.config.Auth.BearerToken)
			}
			for source, cfg := range g.config.Hooks {
				creds.Set("gateway.hook."+source, cfg.Secret)
			}
		}
	}

	var rlCfg security.RateLimitConfig
	if o := g.config.RateLimit; o != nil {
		rlCfg = security.RateLimitConfig{
			APIRequestsPerMin:  o.APIRequestsPerMin,
			RunNowPerMin:       o.RunNowPerMin,
			AuthFailuresPerMin: o.AuthFailuresPerMin,
		}
	}
	g.limiter = security.NewRateLimiter(rlCfg)

	g.hooks = NewHookDispatcher(g.logger)
	g.hooks.metrics = g.metrics
	for source, cfg := range g.config.Hooks {
		g.hooks.Register(source, cfg.JobID, cfg.Secret)
	}

	ctx.RegisterService("gateway.metrics", g.metrics)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	for source, cfg := range g.config.Hooks {
		if cfg.JobID == "" {
			return errors.New("gateway: hook " + source + " has no job_id")
		}
		if cfg.Secret == "" {
			return errors.New("gateway: hook " + source + " has no secret")
		}
	}
	return nil
}

// Start implements core.Starter. It resolves the dispatcher from the
// service registry and starts the HTTP server.
func (g *Gateway) Start() error {
	if svc, ok := g.appCtx.Service(dispatch.ServiceName); ok {
		g.dispatcher, _ = svc.(*dispatch.Dispatcher)
	}
	if g.dispatcher == nil {
		return errors.New("gateway: dispatch service not registered")
	}
	g.hooks.dispatcher = g.dispatcher

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
