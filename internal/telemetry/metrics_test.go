package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	llmsim "github.com/eugener/llmsim/internal"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.ActiveRequests == nil {
		t.Error("ActiveRequests is nil")
	}
	if m.LatencyBase == nil {
		t.Error("LatencyBase is nil")
	}
	if m.LatencyFull == nil {
		t.Error("LatencyFull is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.RateLimitRejects == nil {
		t.Error("RateLimitRejects is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestMetrics_ObserveLatency(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.ObserveLatency(llmsim.OperationChatCompletions, "chat-deploy", 200, 5*time.Millisecond, 120*time.Millisecond)
	m.ObserveTokens(llmsim.OperationChatCompletions, 42)
	m.IncRateLimitReject("tokens")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"llmsim_latency_base_seconds",
		"llmsim_latency_full_seconds",
		"llmsim_tokens_processed_total",
		"llmsim_ratelimit_rejects_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
