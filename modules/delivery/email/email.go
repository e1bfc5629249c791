// Package email delivers run results over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ThirdKeyAI/symbiont-sched/internal/core"
	"github.com/ThirdKeyAI/symbiont-sched/internal/delivery"
	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

func init() {
	core.RegisterModule(&Email{})
}

// Compile-time interface guards.
var (
	_ core.Module       = (*Email)(nil)
	_ core.Configurable = (*Email)(nil)
	_ core.Provisioner  = (*Email)(nil)
	_ core.Validator    = (*Email)(nil)
	_ delivery.Channel  = (*Email)(nil)
)

// Config holds SMTP settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (c *Config) defaults() {
	if c.Port == 0 {
		c.Port = 587
	}
}

// sendFunc matches smtp.SendMail, injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email implements the email channel type.
type Email struct {
	config Config
	logger *slog.Logger
	send   sendFunc
}

// ModuleInfo implements core.Module.
func (e *Email) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "delivery.email",
		New: func() core.Module { return &Email{} },
	}
}

// Configure implements core.Configurable.
func (e *Email) Configure(node *yaml.Node) error {
	if err := node.Decode(&e.config); err != nil {
		return fmt.Errorf("email: decode config: %w", err)
	}
	e.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (e *Email) Provision(ctx *core.AppContext) error {
	e.logger = ctx.Logger
	if e.send == nil {
		e.send = smtp.SendMail
	}

	router, err := delivery.FromContext(ctx)
	if err != nil {
		return err
	}
	return router.Register(string(job.ChannelEmail), e)
}

// Validate implements core.Validator.
func (e *Email) Validate() error {
	if e.config.Host == "" {
		return errors.New("email: host is required")
	}
	if e.config.From == "" {
		return errors.New("email: from address is required")
	}
	return nil
}

// Deliver implements delivery.Channel.
func (e *Email) Deliver(ctx context.Context, desc job.ChannelDescriptor, payload delivery.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(desc.Recipients) == 0 {
		return errors.New("email: no recipients configured")
	}

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}

	addr := net.JoinHostPort(e.config.Host, fmt.Sprint(e.config.Port))
	msg := buildMessage(e.config.From, desc.Recipients, payload)

	if err := e.send(addr, auth, e.config.From, desc.Recipients, msg); err != nil {
		return fmt.Errorf("email: sending via %s: %w", addr, err)
	}
	return nil
}

// buildMessage renders an RFC 5322 plain-text message.
func buildMessage(from string, to []string, p delivery.Payload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s %s\r\n", p.Status, p.JobName, p.RunID)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Job:       %s (%s)\r\n", p.JobName, p.JobID)
	fmt.Fprintf(&b, "Run:       %s\r\n", p.RunID)
	fmt.Fprintf(&b, "Status:    %s\r\n", p.Status)
	fmt.Fprintf(&b, "Scheduled: %s\r\n", p.ScheduledFor.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Finished:  %s\r\n", p.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	if p.Error != "" {
		fmt.Fprintf(&b, "\r\nError:\r\n%s\r\n", p.Error)
	}
	if p.Output != "" {
		fmt.Fprintf(&b, "\r\nOutput:\r\n%s\r\n", p.Output)
	}
	return []byte(b.String())
}
