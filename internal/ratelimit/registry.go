package ratelimit

import (
	"sync"
	"time"

	llmsim "github.com/eugener/llmsim/internal"
)

// entry pairs a window with the bookkeeping EvictStale needs. Exactly one of
// tpm/rpm is non-nil, selected by the owning deployment's model kind.
type entry struct {
	tpm *TPMWindow
	rpm *RPMWindow
}

func (e entry) lastUsed() time.Time {
	if e.tpm != nil {
		e.tpm.mu.Lock()
		defer e.tpm.mu.Unlock()
		return e.tpm.lastUsed
	}
	e.rpm.mu.Lock()
	defer e.rpm.mu.Unlock()
	return e.rpm.lastUsed
}

// Registry lazily creates and retains one window per deployment name, using
// a Registry/Limiter wrapper shape (GetOrCreate + timed EvictStale) over
// windows whose internals implement a sliding window algorithm instead of a
// token bucket.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// GetOrCreate returns the window for the given deployment, creating it (per
// the deployment's model kind) on first use.
func (r *Registry) GetOrCreate(d llmsim.Deployment) entry {
	r.mu.RLock()
	e, ok := r.entries[d.Name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[d.Name]; ok {
		return e
	}
	if d.Model.IsTokenLimited() {
		e = entry{tpm: NewTPMWindow(d.TokensPerMinute, d.RequestsPer10Seconds())}
	} else {
		e = entry{rpm: NewRPMWindow(d.RequestsPerMinute)}
	}
	r.entries[d.Name] = e
	return e
}

// AddRequest admits a request against the deployment's window. The given
// token cost is used only when the window is TPM-governed.
func (e entry) AddRequest(cost int, now time.Time) Result {
	if e.tpm != nil {
		return e.tpm.AddRequest(cost, now)
	}
	return e.rpm.AddRequest(now)
}

// EvictStale removes windows untouched since cutoff. Returns the count removed.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for name, e := range r.entries {
		if e.lastUsed().Before(cutoff) {
			delete(r.entries, name)
			evicted++
		}
	}
	return evicted
}
