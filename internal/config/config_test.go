package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SIMULATOR_MODE", "")
	for _, k := range []string{
		"SIMULATOR_MODE", "RECORDING_AUTOSAVE", "ALLOW_UNDEFINED_OPENAI_DEPLOYMENTS",
		"LATENCY_OPENAI_COMPLETIONS_MEAN", "LATENCY_OPENAI_COMPLETIONS_STD_DEV",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("SIMULATOR_MODE", "generate")

	m, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := m.Snapshot()
	if snap.Mode != "generate" {
		t.Errorf("mode = %q, want generate", snap.Mode)
	}
	if !snap.AllowUndefinedDeployments {
		t.Error("expected AllowUndefinedDeployments to default true")
	}
	if got := m.Static().RecordingDir; got != ".recording" {
		t.Errorf("RecordingDir = %q, want .recording", got)
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	t.Setenv("SIMULATOR_MODE", "nonsense")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestLoad_InvalidBool(t *testing.T) {
	t.Setenv("SIMULATOR_MODE", "generate")
	t.Setenv("RECORDING_AUTOSAVE", "not-a-bool")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid bool env var")
	}
}

func TestManager_Patch(t *testing.T) {
	t.Setenv("SIMULATOR_MODE", "generate")
	m, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	m.Patch(func(s Snapshot) Snapshot {
		s.Mode = "record"
		return s
	})

	if got := m.Snapshot().Mode; got != "record" {
		t.Errorf("mode after patch = %q, want record", got)
	}
}
