package simulator

import (
	"context"
	"encoding/json"
	"io"
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
)

func newTestPipeline(t *testing.T, mode llmsim.Mode, upstream string) (*Pipeline, *catalogue.Registry) {
	t.Helper()
	t.Setenv("SIMULATOR_MODE", string(mode))
	t.Setenv("AZURE_OPENAI_ENDPOINT", upstream)
	t.Setenv("AZURE_OPENAI_KEY", "upstream-key")
	t.Setenv("LATENCY_OPENAI_COMPLETIONS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_COMPLETIONS_STD_DEV", "0")
	t.Setenv("LATENCY_OPENAI_CHAT_COMPLETIONS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_CHAT_COMPLETIONS_STD_DEV", "0")
	t.Setenv("LATENCY_OPENAI_EMBEDDINGS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_EMBEDDINGS_STD_DEV", "0")
	t.Setenv("LATENCY_OPENAI_TRANSLATIONS_MEAN", "0")
	t.Setenv("LATENCY_OPENAI_TRANSLATIONS_STD_DEV", "0")

	mgr, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	registry := catalogue.New()
	chat, _ := catalogue.LookupModel("gpt-3.5-turbo")
	embed, _ := catalogue.LookupModel("text-embedding-ada-002")
	registry.Put(llmsim.Deployment{Name: "chat-deploy", Model: chat, TokensPerMinute: 20000})
	registry.Put(llmsim.Deployment{Name: "embed-deploy", Model: embed, TokensPerMinute: 20000, EmbeddingSize: 8})

	logger := slog.New(slog.DiscardHandler)
	resolver := generator.NewResolver(registry, logger)
	fillers := generator.NewFillerCache()

	return &Pipeline{
		Config:     mgr,
		Catalogue:  registry,
		Generators: generator.NewDefaultSet(resolver, fillers),
		Store:      recordreplay.NewStore(),
		Persister:  recordreplay.NewPersister(t.TempDir()),
		Forwarder:  forwarder.New(nil),
		Limiter:    ratelimit.NewRegistry(),
		Logger:     logger,
	}, registry
}

func TestPipeline_GenerateMode_EmbeddingsRoundTrip(t *testing.T) {
	p, _ := newTestPipeline(t, llmsim.ModeGenerate, "")

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/embed-deploy/embeddings",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"input":"hello world"}`),
	}
	resp := p.Handle(context.Background(), req)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200; body=%s", resp.StatusCode, resp.Body)
	}
	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Data) != 1 || len(decoded.Data[0].Embedding) != 8 {
		t.Fatalf("unexpected embedding shape: %+v", decoded)
	}
}

func TestPipeline_GenerateMode_PathNormalization(t *testing.T) {
	p, _ := newTestPipeline(t, llmsim.ModeGenerate, "")

	req := &Request{
		Method: "POST",
		Path:   "//openai/deployments//embed-deploy/embeddings",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"input":"hi"}`),
	}
	resp := p.Handle(context.Background(), req)
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200 after path normalization; body=%s", resp.StatusCode, resp.Body)
	}
}

func TestPipeline_GenerateMode_WrongKindIsBadRequest(t *testing.T) {
	p, _ := newTestPipeline(t, llmsim.ModeGenerate, "")

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/embed-deploy/chat/completions",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"messages":[{"role":"user","content":"hi"}]}`),
	}
	resp := p.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body=%s", resp.StatusCode, resp.Body)
	}
}

func TestPipeline_GenerateMode_UnknownDeployment_DisallowedIs404(t *testing.T) {
	t.Setenv("ALLOW_UNDEFINED_OPENAI_DEPLOYMENTS", "false")
	p, _ := newTestPipeline(t, llmsim.ModeGenerate, "")

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/no-such-deploy/embeddings",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"input":"hello"}`),
	}
	resp := p.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body=%s", resp.StatusCode, resp.Body)
	}
}

func TestPipeline_GenerateMode_UnknownDeployment_AllowedByDefault(t *testing.T) {
	p, _ := newTestPipeline(t, llmsim.ModeGenerate, "")

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/no-such-deploy/embeddings",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"input":"hello"}`),
	}
	resp := p.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (ALLOW_UNDEFINED_OPENAI_DEPLOYMENTS defaults true); body=%s", resp.StatusCode, resp.Body)
	}
}

func TestPipeline_ReplayMode_MissIs500(t *testing.T) {
	p, _ := newTestPipeline(t, llmsim.ModeReplay, "")

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/chat-deploy/chat/completions",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"messages":[{"role":"user","content":"hi"}]}`),
	}
	resp := p.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 on replay miss", resp.StatusCode)
	}
}

func TestPipeline_RecordMode_ForwardsAndPersists(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		body, _ := io.ReadAll(r.Body)
		_ = body
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer upstream.Close()

	p, _ := newTestPipeline(t, llmsim.ModeRecord, upstream.URL)

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/chat-deploy/chat/completions",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"messages":[{"role":"user","content":"hi"}]}`),
	}

	resp1 := p.Handle(context.Background(), req)
	if resp1.StatusCode != 200 {
		t.Fatalf("status = %d, want 200; body=%s", resp1.StatusCode, resp1.Body)
	}
	if upstreamHits != 1 {
		t.Fatalf("upstreamHits = %d, want 1", upstreamHits)
	}

	// Second identical request should hit the cache, not the upstream again.
	resp2 := p.Handle(context.Background(), req)
	if resp2.StatusCode != 200 {
		t.Fatalf("status = %d, want 200 on cache hit", resp2.StatusCode)
	}
	if upstreamHits != 1 {
		t.Fatalf("upstreamHits = %d after repeat request, want 1 (cache hit)", upstreamHits)
	}

	loaded, ok, err := p.Persister.Load("/openai/deployments/chat-deploy/chat/completions")
	if err != nil || !ok {
		t.Fatalf("expected autosaved recording to be loadable: ok=%v err=%v", ok, err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1", len(loaded))
	}
}

func TestPipeline_RateLimitRejectionIsRetried429(t *testing.T) {
	p, registry := newTestPipeline(t, llmsim.ModeGenerate, "")
	chat, _ := catalogue.LookupModel("gpt-3.5-turbo")
	registry.Put(llmsim.Deployment{Name: "tiny", Model: chat, TokensPerMinute: 8})

	req := &Request{
		Method: "POST",
		Path:   "/openai/deployments/tiny/completions",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"prompt":"hi","max_tokens":5}`),
	}

	resp1 := p.Handle(context.Background(), req)
	if resp1.StatusCode != 200 {
		t.Fatalf("first request status = %d, want 200; body=%s", resp1.StatusCode, resp1.Body)
	}

	resp2 := p.Handle(context.Background(), req)
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429; body=%s", resp2.StatusCode, resp2.Body)
	}
	if resp2.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}
