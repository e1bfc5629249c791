// Package webhook delivers run results as JSON POSTs to per-job URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
	"github.com/ThirdKeyAI/symbiont-sched/internal/security"
)

func init() {
	core.RegisterModule(&Webhook{})
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Webhook)(nil)
	_ core.Configurable = (*Webhook)(nil)
	_ core.Provisioner  = (*Webhook)(nil)
	_ delivery.Channel  = (*Webhook)(nil)
)

const maxResponseBytes = 1 << 20 // discard at most 1 MiB of response body

// Config holds webhook delivery settings.
type Config struct {
	// Timeout for a single POST attempt. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries across attempts for one delivery. Default 3.
	MaxRetries int `yaml:"max_retries"`

	// Backoff before the first retry, doubling per attempt. Default 1s.
	Backoff time.Duration `yaml:"backoff"`

	// AllowDomains restricts destination URLs to these domains (subdomains
	// included). Empty means no restriction.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains blocks specific domains even when allowed. Deny wins.
	DenyDomains []string `yaml:"deny_domains"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
}

// Webhook implements the webhook channel type.
type Webhook struct {
	config Config
	logger *slog.Logger
	http   *http.Client
	filter *security.URLFilter
}

// ModuleInfo implements core.Module.
func (w *Webhook) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "delivery.webhook",
		New: func() core.Module { return &Webhook{} },
	}
}

// Configure implements core.Configurable.
func (w *Webhook) Configure(node *yaml.Node) error {
	if err := node.Decode(&w.config); err != nil {
		return fmt.Errorf("webhook: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (w *Webhook) Provision(ctx *core.AppContext) error {
	w.config.defaults()
	w.logger = ctx.Logger
	if w.http == nil {
		w.http = &http.Client{Timeout: w.config.Timeout}
	}
	// The filter is default-deny, so it only engages when an allow list
	// is configured.
	if len(w.config.AllowDomains) > 0 {
		w.filter = security.NewURLFilter(security.URLFilterConfig{
			AllowDomains: w.config.AllowDomains,
			DenyDomains:  w.config.DenyDomains,
		})
	}

	router, err := delivery.FromContext(ctx)
	if err != nil {
		return err
	}
	return router.Register(string(job.ChannelWebhook), w)
}

// Deliver implements delivery.Channel. Retries transport errors and
// 5xx responses with exponential backoff; 4xx responses fail immediately
// since retrying a rejected payload cannot succeed.
func (w *Webhook) Deliver(ctx context.Context, desc job.ChannelDescriptor, payload delivery.Payload) error {
	if w.filter != nil {
		if err := w.filter.Check(desc.URL); err != nil {
			return fmt.Errorf("webhook: destination %s: %w", desc.URL, err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: encoding payload: %w", err)
	}

	backoff := w.config.Backoff
	var lastErr error

	for attempt := range w.config.MaxRetries {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		lastErr = w.post(ctx, desc, body)
		if lastErr == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(lastErr, &pe) {
			return pe.err
		}
		w.logger.Debug("webhook: attempt failed",
			"url", desc.URL, "attempt", attempt+1, "error", lastErr)
	}

	return fmt.Errorf("webhook: delivery to %s failed after %d attempts: %w",
		desc.URL, w.config.MaxRetries, lastErr)
}

// permanentError marks a failure not worth retrying.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (w *Webhook) post(ctx context.Context, desc job.ChannelDescriptor, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.URL, bytes.NewReader(body))
	if err != nil {
		return &permanentError{err: fmt.Errorf("webhook: creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: POST %s: %w", desc.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &permanentError{err: fmt.Errorf("webhook: %s returned %d", desc.URL, resp.StatusCode)}
	default:
		return fmt.Errorf("webhook: %s returned %d", desc.URL, resp.StatusCode)
	}
}
