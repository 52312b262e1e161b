package llmsim

import "testing"

func TestModelDescriptor_IsTokenLimited(t *testing.T) {
	t.Parallel()
	cases := []struct {
		kind ModelKind
		want bool
	}{
		{ModelChat, true},
		{ModelEmbedding, true},
		{ModelWhisper, false},
	}
	for _, tc := range cases {
		m := ModelDescriptor{Kind: tc.kind}
		if got := m.IsTokenLimited(); got != tc.want {
			t.Errorf("kind %v: IsTokenLimited() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestDeployment_RequestsPer10Seconds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		tpm  int
		want int
	}{
		{600, 1},
		{1000, 1},
		{1001, 2},
		{6000, 6},
	}
	for _, tc := range cases {
		d := Deployment{TokensPerMinute: tc.tpm}
		if got := d.RequestsPer10Seconds(); got != tc.want {
			t.Errorf("tpm %d: RequestsPer10Seconds() = %d, want %d", tc.tpm, got, tc.want)
		}
	}
}

func TestContextRequestID(t *testing.T) {
	t.Parallel()
	ctx := ContextWithRequestID(t.Context(), "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("RequestIDFromContext() = %q, want %q", got, "req-123")
	}
	if got := RequestIDFromContext(t.Context()); got != "" {
		t.Errorf("RequestIDFromContext() on empty context = %q, want empty", got)
	}
}
