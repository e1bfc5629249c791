package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThirdKeyAI/symbiont-sched/internal/job"
)

func signHook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postHook(t *testing.T, g *Gateway, source string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/hooks/"+source, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature-256", signature)
	}
	rr := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rr, req)
	return rr
}

func TestHooks_ValidSignatureFiresRun(t *testing.T) {
	t.Parallel()

	g, st := newTestGateway(t, nil)

	def, err := g.dispatcher.Create(t.Context(), testDefinition("deploy"), "test")
	if err != nil {
		t.Fatal(err)
	}
	g.hooks.Register("github", def.ID, "gh-secret")

	body := []byte(`{"ref":"refs/heads/main"}`)
	rr := postHook(t, g, "github", body, signHook(body, "gh-secret"))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	resp := decodeJSON[map[string]string](t, rr)
	runID := resp["run_id"]
	if runID == "" {
		t.Fatal("response missing run_id")
	}

	rec := waitForRun(t, st, runID)
	if rec.Status != job.RunSucceeded {
		t.Errorf("run status = %q, want %q", rec.Status, job.RunSucceeded)
	}

	if got := g.metrics.Snapshot().HooksFired; got != 1 {
		t.Errorf("HooksFired = %d, want 1", got)
	}
}

func TestHooks_InvalidSignatureRejected(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, nil)

	def, err := g.dispatcher.Create(t.Context(), testDefinition("deploy"), "test")
	if err != nil {
		t.Fatal(err)
	}
	g.hooks.Register("github", def.ID, "gh-secret")

	body := []byte(`{}`)
	rr := postHook(t, g, "github", body, signHook(body, "wrong-secret"))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestHooks_MissingSignatureRejected(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, nil)

	def, err := g.dispatcher.Create(t.Context(), testDefinition("deploy"), "test")
	if err != nil {
		t.Fatal(err)
	}
	g.hooks.Register("github", def.ID, "gh-secret")

	rr := postHook(t, g, "github", []byte(`{}`), "")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestHooks_UnknownSourceIs404(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, nil)

	body := []byte(`{}`)
	rr := postHook(t, g, "gitlab", body, signHook(body, "whatever"))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHooks_PausedJobIsConflict(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, nil)

	def, err := g.dispatcher.Create(t.Context(), testDefinition("deploy"), "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.dispatcher.Pause(t.Context(), def.ID, "test"); err != nil {
		t.Fatal(err)
	}
	g.hooks.Register("github", def.ID, "gh-secret")

	body := []byte(`{}`)
	rr := postHook(t, g, "github", body, signHook(body, "gh-secret"))

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
}
