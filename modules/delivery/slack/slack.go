// Package slack delivers run results to Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

func init() {
	core.RegisterModule(&Slack{})
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Slack)(nil)
	_ core.Configurable = (*Slack)(nil)
	_ core.Provisioner  = (*Slack)(nil)
	_ delivery.Channel  = (*Slack)(nil)
)

// Config holds slack delivery settings.
type Config struct {
	// Timeout for the webhook POST. Default 15s.
	Timeout time.Duration `yaml:"timeout"`

	// Username shown as the message sender. Default "symsched".
	Username string `yaml:"username"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Username == "" {
		c.Username = "symsched"
	}
}

// message is the incoming-webhook wire format.
type message struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

// Slack implements the slack channel type.
type Slack struct {
	config Config
	logger *slog.Logger
	http   *http.Client
}

// ModuleInfo implements core.Module.
func (s *Slack) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "delivery.slack",
		New: func() core.Module { return &Slack{} },
	}
}

// Configure implements core.Configurable.
func (s *Slack) Configure(node *yaml.Node) error {
	if err := node.Decode(&s.config); err != nil {
		return fmt.Errorf("slack: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (s *Slack) Provision(ctx *core.AppContext) error {
	s.config.defaults()
	s.logger = ctx.Logger
	if s.http == nil {
		s.http = &http.Client{Timeout: s.config.Timeout}
	}

	router, err := delivery.FromContext(ctx)
	if err != nil {
		return err
	}
	return router.Register(string(job.ChannelSlack), s)
}

// Deliver implements delivery.Channel.
func (s *Slack) Deliver(ctx context.Context, desc job.ChannelDescriptor, payload delivery.Payload) error {
	body, err := json.Marshal(message{
		Text:     formatText(payload),
		Channel:  desc.Channel,
		Username: s.config.Username,
	})
	if err != nil {
		return fmt.Errorf("slack: encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack: POST webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// formatText renders the payload as a short Slack message.
func formatText(p delivery.Payload) string {
	var b strings.Builder
	switch p.Status {
	case "succeeded":
		b.WriteString(":white_check_mark: ")
	default:
		b.WriteString(":x: ")
	}
	fmt.Fprintf(&b, "*%s* (%s) %s", p.JobName, p.RunID, p.Status)
	if p.Error != "" {
		fmt.Fprintf(&b, "\n> %s", p.Error)
	}
	if p.Output != "" {
		fmt.Fprintf(&b, "\n```%s```", truncate(p.Output, 2000))
	}
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
