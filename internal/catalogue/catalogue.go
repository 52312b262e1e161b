// Package catalogue is the in-memory registry of logical deployments mapping
// names to models and quotas, loaded from a JSON file at startup and mutated
// thereafter only through the control-plane PATCH endpoint.
package catalogue

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	llmsim "github.com/eugener/llmsim/internal"
)

// entryJSON is the on-disk shape of one deployment in the catalogue file.
type entryJSON struct {
	Model           string `json:"model"`
	TokensPerMinute int    `json:"tokensPerMinute"`
	EmbeddingSize   *int   `json:"embeddingSize,omitempty"`
}

const defaultEmbeddingSize = 1536

// Registry is the read-mostly deployment catalogue. All access is guarded by
// an RWMutex since PATCH requests race with the read-heavy request path.
type Registry struct {
	mu          sync.RWMutex
	deployments map[string]llmsim.Deployment
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{deployments: make(map[string]llmsim.Deployment)}
}

// LoadFile populates the registry from a JSON catalogue file, replacing any
// existing entries. An unknown model name is a fatal configuration error.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read deployment catalogue %s: %w", path, err)
	}

	var raw map[string]entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse deployment catalogue %s: %w", path, err)
	}

	deployments := make(map[string]llmsim.Deployment, len(raw))
	for name, e := range raw {
		model, ok := LookupModel(e.Model)
		if !ok {
			return fmt.Errorf("deployment %q references unknown model %q", name, e.Model)
		}
		embeddingSize := defaultEmbeddingSize
		if e.EmbeddingSize != nil {
			embeddingSize = *e.EmbeddingSize
		}
		deployments[name] = llmsim.Deployment{
			Name:              name,
			Model:             model,
			TokensPerMinute:   e.TokensPerMinute,
			RequestsPerMinute: e.TokensPerMinute,
			EmbeddingSize:     embeddingSize,
		}
	}

	r.mu.Lock()
	r.deployments = deployments
	r.mu.Unlock()
	return nil
}

// LoadDefaults seeds the registry with the reference implementation's
// fallback deployment set, used when no catalogue file is configured.
func (r *Registry) LoadDefaults() {
	chat, _ := LookupModel(DefaultChatModel)
	embedding, _ := LookupModel(DefaultEmbeddingModel)

	defaults := map[string]llmsim.Deployment{
		"embedding": {
			Name: "embedding", Model: embedding,
			TokensPerMinute: 20000, EmbeddingSize: defaultEmbeddingSize,
		},
	}
	for _, tpm := range []int{1000, 2000, 5000, 10000, 20000, 50000, 100000, 100000000} {
		name := fmt.Sprintf("gpt-35-turbo-%s-token", humanizeCount(tpm))
		defaults[name] = llmsim.Deployment{Name: name, Model: chat, TokensPerMinute: tpm}
	}

	r.mu.Lock()
	r.deployments = defaults
	r.mu.Unlock()
}

func humanizeCount(n int) string {
	switch {
	case n >= 1000000:
		return fmt.Sprintf("%dm", n/1000000)
	case n >= 1000:
		return fmt.Sprintf("%dk", n/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Get returns the deployment by name.
func (r *Registry) Get(name string) (llmsim.Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployments[name]
	return d, ok
}

// Put inserts or replaces a deployment, used by the control-plane PATCH handler.
func (r *Registry) Put(d llmsim.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[d.Name] = d
}

// List returns a snapshot of all deployments, sorted by name for determinism.
func (r *Registry) List() []llmsim.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmsim.Deployment, 0, len(r.deployments))
	for _, d := range r.deployments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
