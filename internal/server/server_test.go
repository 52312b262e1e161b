package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
	"github.com/eugener/llmsim/internal/config"
	"github.com/eugener/llmsim/internal/forwarder"
	"github.com/eugener/llmsim/internal/generator"
	"github.com/eugener/llmsim/internal/ratelimit"
	"github.com/eugener/llmsim/internal/recordreplay"
	"github.com/eugener/llmsim/internal/simulator"
	"github.com/eugener/llmsim/internal/telemetry"
)

// newTestServerWithMetrics builds a generate-mode, no-auth server over the
// default catalogue with Metrics/MetricsHandler wired, for tests that need
// to observe Prometheus output.
func newTestServerWithMetrics(t *testing.T, metrics *telemetry.Metrics, metricsHandler http.Handler) (http.Handler, *catalogue.Registry, *config.Manager) {
	t.Helper()
	t.Setenv("SIMULATOR_MODE", string(llmsim.ModeGenerate))
	t.Setenv("SIMULATOR_API_KEY", "")

	mgr, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	registry := catalogue.New()
	registry.LoadDefaults()

	logger := slog.New(slog.DiscardHandler)
	resolver := generator.NewResolver(registry, logger)
	fillers := generator.NewFillerCache()
	store := recordreplay.NewStore()
	persister := recordreplay.NewPersister(t.TempDir())

	pipeline := &simulator.Pipeline{
		Config:     mgr,
		Catalogue:  registry,
		Generators: generator.NewDefaultSet(resolver, fillers),
		Store:      store,
		Persister:  persister,
		Forwarder:  forwarder.New(nil),
		Limiter:    ratelimit.NewRegistry(),
		Metrics:    metrics,
		Logger:     logger,
	}

	handler := New(Deps{
		Pipeline:       pipeline,
		Config:         mgr,
		Catalogue:      registry,
		Store:          store,
		Persister:      persister,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Logger:         logger,
	})
	return handler, registry, mgr
}

func newTestServer(t *testing.T, mode llmsim.Mode, apiKey string) (http.Handler, *catalogue.Registry, *config.Manager) {
	t.Helper()
	t.Setenv("SIMULATOR_MODE", string(mode))
	t.Setenv("SIMULATOR_API_KEY", apiKey)
	t.Setenv("LATENCY_OPENAI_EMBEDDINGS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_EMBEDDINGS_STD_DEV", "0")
	t.Setenv("LATENCY_OPENAI_COMPLETIONS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_COMPLETIONS_STD_DEV", "0")
	t.Setenv("LATENCY_OPENAI_CHAT_COMPLETIONS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_CHAT_COMPLETIONS_STD_DEV", "0")
	t.Setenv("LATENCY_OPENAI_TRANSLATIONS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_TRANSLATIONS_STD_DEV", "0")

	mgr, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	registry := catalogue.New()
	embed, _ := catalogue.LookupModel("text-embedding-ada-002")
	registry.Put(llmsim.Deployment{Name: "embed-deploy", Model: embed, TokensPerMinute: 20000, EmbeddingSize: 8})

	logger := slog.New(slog.DiscardHandler)
	resolver := generator.NewResolver(registry, logger)
	fillers := generator.NewFillerCache()
	store := recordreplay.NewStore()
	persister := recordreplay.NewPersister(t.TempDir())

	pipeline := &simulator.Pipeline{
		Config:     mgr,
		Catalogue:  registry,
		Generators: generator.NewDefaultSet(resolver, fillers),
		Store:      store,
		Persister:  persister,
		Forwarder:  forwarder.New(nil),
		Limiter:    ratelimit.NewRegistry(),
		Logger:     logger,
	}

	handler := New(Deps{
		Pipeline:  pipeline,
		Config:    mgr,
		Catalogue: registry,
		Store:     store,
		Persister: persister,
		Logger:    logger,
	})
	return handler, registry, mgr
}

func TestServer_Greeting(t *testing.T) {
	h, _, _ := newTestServer(t, llmsim.ModeGenerate, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := body["message"]; !ok {
		t.Errorf("expected a message field in greeting body, got %v", body)
	}
}

func TestServer_Healthz(t *testing.T) {
	h, _, _ := newTestServer(t, llmsim.ModeGenerate, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q, want 200 \"ok\"", rec.Code, rec.Body.String())
	}
}

func TestServer_Config_RequiresAPIKey(t *testing.T) {
	h, _, _ := newTestServer(t, llmsim.ModeGenerate, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/++/config", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["detail"] != "Missing or incorrect API Key" {
		t.Errorf("detail = %q, want the exact auth failure message", body["detail"])
	}
}

func TestServer_ConfigRoundTrip_PatchThenGet(t *testing.T) {
	h, _, _ := newTestServer(t, llmsim.ModeGenerate, "secret")

	patchBody := []byte(`{"mode":"record","allowUndefinedDeployments":false}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/++/config", bytes.NewReader(patchBody))
	req.Header.Set("api-key", "secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/++/config", nil)
	req2.Header.Set("api-key", "secret")
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec2.Code)
	}

	var view configView
	if err := json.Unmarshal(rec2.Body.Bytes(), &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Mode != llmsim.ModeRecord {
		t.Errorf("mode = %q, want %q after patch", view.Mode, llmsim.ModeRecord)
	}
	if view.AllowUndefinedDeployments {
		t.Error("allowUndefinedDeployments = true, want false after patch")
	}
}

func TestServer_SaveRecordings_RequiresRecordMode(t *testing.T) {
	h, _, _ := newTestServer(t, llmsim.ModeGenerate, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/++/save-recordings", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 outside record mode", rec.Code)
	}
}

func TestServer_SimulatedEmbeddings(t *testing.T) {
	h, _, _ := newTestServer(t, llmsim.ModeGenerate, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/openai/deployments/embed-deploy/embeddings", bytes.NewReader([]byte(`{"input":"hello"}`)))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
}
