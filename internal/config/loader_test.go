package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "symsched.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_ParsesModuleConfigs(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
version: "1"
environment: production
log:
  level: debug
  format: json
modules:
  store.sqlite: {}
  dispatch:
    tick_interval: 1s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != "1" {
		t.Errorf("version = %q, want 1", cfg.Version)
	}
	if cfg.Environment != "production" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if _, ok := cfg.Modules["dispatch"]; !ok {
		t.Error("dispatch module config missing")
	}
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("SYMSCHED_TEST_TOKEN", "tok-from-env")

	path := writeConfig(t, `
version: "1"
modules:
  gateway.http:
    auth:
      bearer_token: ${SYMSCHED_TEST_TOKEN}
    bind: ${SYMSCHED_TEST_BIND:-127.0.0.1:8080}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var gw struct {
		Auth struct {
			BearerToken string `yaml:"bearer_token"`
		} `yaml:"auth"`
		Bind string `yaml:"bind"`
	}
	node := cfg.Modules["gateway.http"]
	if err := node.Decode(&gw); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gw.Auth.BearerToken != "tok-from-env" {
		t.Errorf("bearer_token = %q, want the environment value", gw.Auth.BearerToken)
	}
	if gw.Bind != "127.0.0.1:8080" {
		t.Errorf("bind = %q, want the fallback default", gw.Bind)
	}
}

func TestLoad_ReportsAllUnresolvedVariables(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
version: "1"
modules:
  delivery.slack:
    token: ${SYMSCHED_NO_SUCH_TOKEN}
  delivery.email:
    password: ${SYMSCHED_NO_SUCH_PASSWORD}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load succeeded with unresolved variables")
	}
	for _, name := range []string{"SYMSCHED_NO_SUCH_TOKEN", "SYMSCHED_NO_SUCH_PASSWORD"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}
