package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string             `yaml:"bind"`
	Auth            AuthConfig         `yaml:"auth"`
	Hooks           map[string]HookCfg `yaml:"hooks,omitempty"`
	ReadTimeout     time.Duration      `yaml:"read_timeout"`
	WriteTimeout    time.Duration      `yaml:"write_timeout"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`

	// RateLimit overrides the security package defaults.
	RateLimit *RateLimitCfg `yaml:"rate_limit,omitempty"`
}

// RateLimitCfg tunes the per-minute request budgets.
type RateLimitCfg struct {
	APIRequestsPerMin  int `yaml:"api_requests_per_min"`
	RunNowPerMin       int `yaml:"run_now_per_min"`
	AuthFailuresPerMin int `yaml:"auth_failures_per_min"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// HookCfg maps an inbound webhook source to a job. A POST to
// /hooks/{source} with a valid HMAC signature fires the job immediately.
type HookCfg struct {
	JobID  string `yaml:"job_id"`
	Secret string `yaml:"secret"`
}
