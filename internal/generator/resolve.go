package generator

import (
	"fmt"
	"log/slog"
	"sync"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
)

// Resolver resolves a deployment name against the catalogue, applying the
// allow-undefined-deployments policy: when enabled, an unknown name is
// satisfied by a synthetic deployment using the operation's default model,
// with a warning logged at most once per unique name.
type Resolver struct {
	registry *catalogue.Registry
	logger   *slog.Logger
	warned   sync.Map // name -> struct{}
}

// NewResolver returns a Resolver backed by the given catalogue.
func NewResolver(registry *catalogue.Registry, logger *slog.Logger) *Resolver {
	return &Resolver{registry: registry, logger: logger}
}

// Resolve returns the named deployment, or a synthetic fallback using
// defaultModel when allowUndefined is true. ok is false only when the
// deployment is genuinely absent and undefined deployments are disallowed.
func (r *Resolver) Resolve(name string, defaultModel llmsim.ModelDescriptor, allowUndefined bool) (d llmsim.Deployment, ok bool) {
	if d, found := r.registry.Get(name); found {
		return d, true
	}
	if !allowUndefined {
		return llmsim.Deployment{}, false
	}

	if _, alreadyWarned := r.warned.LoadOrStore(name, struct{}{}); !alreadyWarned {
		r.logger.Warn("deployment not found, substituting default model", "deployment", name, "model", defaultModel.Name)
	}

	return llmsim.Deployment{
		Name:              name,
		Model:             defaultModel,
		TokensPerMinute:   20000,
		RequestsPerMinute: 20000,
		EmbeddingSize:     1536,
	}, true
}

// CheckKind returns llmsim.ErrOperationMismatch when the deployment's model
// kind does not match what the operation requires.
func CheckKind(d llmsim.Deployment, want llmsim.ModelKind) error {
	if d.Model.Kind != want {
		return fmt.Errorf("%w: deployment %q", llmsim.ErrOperationMismatch, d.Name)
	}
	return nil
}
