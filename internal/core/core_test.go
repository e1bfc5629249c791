package core

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"gopkg.in/yaml.v3"
)

// fakeModule implements the full optional lifecycle for registry tests.
type fakeModule struct {
	id          ModuleID
	configured  bool
	provisioned bool
	validated   bool
	started     bool
	stopped     bool

	startErr    error
	validateErr error
}

func (m *fakeModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *fakeModule) Configure(_ *yaml.Node) error { m.configured = true; return nil }
func (m *fakeModule) Provision(_ *AppContext) error { m.provisioned = true; return nil }
func (m *fakeModule) Validate() error { m.validated = true; return m.validateErr }
func (m *fakeModule) Start() error { m.started = true; return m.startErr }
func (m *fakeModule) Stop(_ context.Context) error { m.stopped = true; return nil }

func TestModuleID_NamespaceName(t *testing.T) {
	t.Parallel()

	id := ModuleID("delivery.webhook")
	if id.Namespace() != "delivery" {
		t.Errorf("namespace = %q", id.Namespace())
	}
	if id.Name() != "webhook" {
		t.Errorf("name = %q", id.Name())
	}

	bare := ModuleID("dispatcher")
	if bare.Namespace() != "" || bare.Name() != "dispatcher" {
		t.Errorf("bare id parsed as %q/%q", bare.Namespace(), bare.Name())
	}
}

func TestRegisterModule_Duplicate(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	RegisterModule(&fakeModule{id: "test.dup"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()
	RegisterModule(&fakeModule{id: "test.dup"})
}

func TestLoadModule_Lifecycle(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	m := &fakeModule{id: "test.lifecycle"}
	RegisterModule(m)

	ctx := NewAppContext(slog.Default(), t.TempDir())
	ctx = ctx.WithModuleConfigs(map[string]yaml.Node{
		"test.lifecycle": {Kind: yaml.MappingNode},
	})

	if _, err := ctx.LoadModule("test.lifecycle"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.configured || !m.provisioned || !m.validated {
		t.Errorf("lifecycle = configured:%v provisioned:%v validated:%v",
			m.configured, m.provisioned, m.validated)
	}
}

func TestLoadModule_ValidateFailure(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	m := &fakeModule{id: "test.invalid", validateErr: errors.New("bad config")}
	RegisterModule(m)

	ctx := NewAppContext(slog.Default(), t.TempDir())
	if _, err := ctx.LoadModule("test.invalid"); err == nil {
		t.Error("expected validation error")
	}
}

func TestApp_StartFailureStopsStarted(t *testing.T) {
	resetRegistry()
	t.Cleanup(resetRegistry)

	ok := &fakeModule{id: "test.ok"}
	bad := &fakeModule{id: "test.bad", startErr: errors.New("boom")}
	RegisterModule(ok)
	RegisterModule(bad)

	ctx := NewAppContext(slog.Default(), t.TempDir())
	app := NewApp(ctx)
	if err := app.LoadModules([]string{"test.ok", "test.bad"}); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if !ok.stopped {
		t.Error("previously started module should be stopped after a later failure")
	}
}

func TestAppContext_Services(t *testing.T) {
	t.Parallel()

	ctx := NewAppContext(slog.Default(), t.TempDir())
	ctx.RegisterService("store", 42)

	// Scoped contexts share the service registry.
	scoped := ctx.ForModule("test.scope")
	v, ok := scoped.Service("store")
	if !ok || v.(int) != 42 {
		t.Errorf("service = %v, %v", v, ok)
	}

	if _, ok := ctx.Service("missing"); ok {
		t.Error("missing service should not resolve")
	}
}
