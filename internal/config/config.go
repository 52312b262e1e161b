// Package config loads the simulator's process configuration from
// environment variables and publishes the mutable portion (mode, latency
// parameters, undefined-deployment policy) as an immutable snapshot that
// request handlers capture once at request start.
package config

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"sync/atomic"

	llmsim "github.com/eugener/llmsim/internal"
)

// LatencyParams is the mean/standard-deviation pair for one operation's
// simulated latency distribution, in milliseconds.
type LatencyParams struct {
	MeanMS   float64
	StdDevMS float64
}

// Sample draws a simulated duration in milliseconds, floored at zero.
func (p LatencyParams) Sample() float64 {
	v := rand.NormFloat64()*p.StdDevMS + p.MeanMS
	if v < 0 {
		return 0
	}
	return v
}

// LatencyConfig holds the per-operation latency distributions.
type LatencyConfig struct {
	Completions     LatencyParams
	ChatCompletions LatencyParams
	Embeddings      LatencyParams
	Translations    LatencyParams
}

// Snapshot is the immutable, atomically-published mutable configuration.
// A request handler captures the snapshot current at request start and uses
// it for the lifetime of that request, never re-reading mid-request.
type Snapshot struct {
	Mode                      llmsim.Mode
	AllowUndefinedDeployments bool
	Latency                   LatencyConfig
}

// Static is configuration that never changes after process startup: it is
// read once from the environment and never republished.
type Static struct {
	APIKey               string
	RecordingDir         string
	RecordingAutosave    bool
	DeploymentConfigPath string
	ExtensionPath        string
	UpstreamEndpoint     string
	UpstreamAPIKey       string
}

// Manager owns the atomically-published Snapshot plus the process's static
// configuration.
type Manager struct {
	static   Static
	snapshot atomic.Pointer[Snapshot]
}

// Load reads Static from the environment and builds the initial Snapshot.
func Load() (*Manager, error) {
	mode := llmsim.Mode(getEnv("SIMULATOR_MODE", string(llmsim.ModeGenerate)))
	switch mode {
	case llmsim.ModeGenerate, llmsim.ModeRecord, llmsim.ModeReplay:
	default:
		return nil, fmt.Errorf("invalid SIMULATOR_MODE %q", mode)
	}

	autosave, err := getEnvBool("RECORDING_AUTOSAVE", true)
	if err != nil {
		return nil, err
	}
	allowUndefined, err := getEnvBool("ALLOW_UNDEFINED_OPENAI_DEPLOYMENTS", true)
	if err != nil {
		return nil, err
	}

	latency, err := loadLatencyConfig()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		static: Static{
			APIKey:               os.Getenv("SIMULATOR_API_KEY"),
			RecordingDir:         getEnv("RECORDING_DIR", ".recording"),
			RecordingAutosave:    autosave,
			DeploymentConfigPath: os.Getenv("OPENAI_DEPLOYMENT_CONFIG_PATH"),
			ExtensionPath:        os.Getenv("EXTENSION_PATH"),
			UpstreamEndpoint:     os.Getenv("AZURE_OPENAI_ENDPOINT"),
			UpstreamAPIKey:       os.Getenv("AZURE_OPENAI_KEY"),
		},
	}
	m.snapshot.Store(&Snapshot{
		Mode:                      mode,
		AllowUndefinedDeployments: allowUndefined,
		Latency:                   latency,
	})
	return m, nil
}

// Static returns the process-lifetime configuration.
func (m *Manager) Static() Static {
	return m.static
}

// Snapshot returns the currently published mutable configuration.
// Callers should capture this once per request.
func (m *Manager) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Patch atomically replaces the published snapshot with the result of
// applying fn to a copy of the current one.
func (m *Manager) Patch(fn func(Snapshot) Snapshot) *Snapshot {
	for {
		cur := m.snapshot.Load()
		next := fn(*cur)
		if m.snapshot.CompareAndSwap(cur, &next) {
			return &next
		}
	}
}

func loadLatencyConfig() (LatencyConfig, error) {
	var lc LatencyConfig
	pairs := []struct {
		prefix string
		dst    *LatencyParams
	}{
		{"LATENCY_OPENAI_COMPLETIONS", &lc.Completions},
		{"LATENCY_OPENAI_CHAT_COMPLETIONS", &lc.ChatCompletions},
		{"LATENCY_OPENAI_EMBEDDINGS", &lc.Embeddings},
		{"LATENCY_OPENAI_TRANSLATIONS", &lc.Translations},
	}
	for _, p := range pairs {
		mean, err := getEnvFloat(p.prefix+"_MEAN", 100)
		if err != nil {
			return lc, err
		}
		stddev, err := getEnvFloat(p.prefix+"_STD_DEV", 30)
		if err != nil {
			return lc, err
		}
		*p.dst = LatencyParams{MeanMS: mean, StdDevMS: stddev}
	}
	return lc, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}
