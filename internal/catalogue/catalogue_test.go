package catalogue

import (
	"os"
	"path/filepath"
	"testing"

	llmsim "github.com/eugener/llmsim/internal"
)

func TestRegistry_LoadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "deployments.json")
	body := `{
		"gpt-35-turbo-1k-token": {"model": "gpt-3.5-turbo", "tokensPerMinute": 1000},
		"embedding": {"model": "text-embedding-ada-002", "tokensPerMinute": 20000, "embeddingSize": 768}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	d, ok := r.Get("gpt-35-turbo-1k-token")
	if !ok {
		t.Fatal("expected deployment to be present")
	}
	if d.Model.Kind != llmsim.ModelChat {
		t.Errorf("model kind = %v, want ModelChat", d.Model.Kind)
	}
	if d.TokensPerMinute != 1000 {
		t.Errorf("tokensPerMinute = %d, want 1000", d.TokensPerMinute)
	}

	emb, ok := r.Get("embedding")
	if !ok {
		t.Fatal("expected embedding deployment to be present")
	}
	if emb.EmbeddingSize != 768 {
		t.Errorf("embeddingSize = %d, want 768", emb.EmbeddingSize)
	}
}

func TestRegistry_LoadFile_UnknownModel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "deployments.json")
	body := `{"bad": {"model": "not-a-real-model", "tokensPerMinute": 1000}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.LoadFile(path); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestRegistry_LoadDefaults(t *testing.T) {
	t.Parallel()
	r := New()
	r.LoadDefaults()

	if _, ok := r.Get("embedding"); !ok {
		t.Error("expected default embedding deployment")
	}
	all := r.List()
	if len(all) == 0 {
		t.Error("expected non-empty default catalogue")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name > all[i].Name {
			t.Fatal("List() not sorted by name")
		}
	}
}

func TestRegistry_PutOverridesExisting(t *testing.T) {
	t.Parallel()
	r := New()
	chat, _ := LookupModel(DefaultChatModel)
	r.Put(llmsim.Deployment{Name: "custom", Model: chat, TokensPerMinute: 500})

	d, ok := r.Get("custom")
	if !ok || d.TokensPerMinute != 500 {
		t.Fatalf("unexpected deployment after Put: %+v, ok=%v", d, ok)
	}

	r.Put(llmsim.Deployment{Name: "custom", Model: chat, TokensPerMinute: 999})
	d, _ = r.Get("custom")
	if d.TokensPerMinute != 999 {
		t.Errorf("tokensPerMinute after overwrite = %d, want 999", d.TokensPerMinute)
	}
}

func TestLookupModel(t *testing.T) {
	t.Parallel()
	if _, ok := LookupModel("does-not-exist"); ok {
		t.Error("expected unknown model lookup to fail")
	}
	m, ok := LookupModel("whisper")
	if !ok || m.Kind != llmsim.ModelWhisper {
		t.Errorf("whisper lookup = %+v, ok=%v", m, ok)
	}
}
