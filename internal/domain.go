// Package llmsim defines the domain types shared across the simulator.
// This package has no project imports -- it is the dependency root.
package llmsim

import (
	"context"
	"math"
	"net/http"
)

// --- Model descriptor: a tagged union over model kinds ---

// ModelKind identifies which variant of ModelDescriptor is populated.
type ModelKind int

const (
	ModelChat ModelKind = iota
	ModelEmbedding
	ModelWhisper
)

// ModelDescriptor describes the behavior of a model a deployment points at.
// Chat and Embedding variants are token-limited; Whisper is request-limited.
type ModelDescriptor struct {
	Name                     string
	Kind                     ModelKind
	SupportsJSONSchema       bool // Chat only
	SupportsCustomDimensions bool // Embedding only
}

// IsTokenLimited reports whether this model's deployment should be governed
// by the TPM window (true) or the RPM window (false).
func (m ModelDescriptor) IsTokenLimited() bool {
	return m.Kind == ModelChat || m.Kind == ModelEmbedding
}

// --- Deployment ---

// Deployment is a named logical endpoint mapping to a model and a quota.
// Exactly one of TokensPerMinute / RequestsPerMinute is meaningful,
// selected by Model.IsTokenLimited().
type Deployment struct {
	Name              string
	Model             ModelDescriptor
	TokensPerMinute   int
	RequestsPerMinute int
	EmbeddingSize     int // default 1536
}

// RequestsPer10Seconds derives the coupled request cap for the TPM window:
// R = ceil(T / 1000).
func (d Deployment) RequestsPer10Seconds() int {
	return int(math.Ceil(float64(d.TokensPerMinute) / 1000))
}

// --- Operation naming ---

// Operation identifies which of the four simulated endpoints a request targets.
type Operation string

const (
	OperationChatCompletions Operation = "chat_completions"
	OperationCompletions     Operation = "completions"
	OperationEmbeddings      Operation = "embeddings"
	OperationTranslation     Operation = "translation"
)

// LimiterName identifies which sliding-window policy governs a request.
type LimiterName string

const (
	LimiterTokens   LimiterName = "openai_tokens"
	LimiterRequests LimiterName = "openai_requests"
)

// --- Mode ---

// Mode selects how the simulator answers a request.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeRecord   Mode = "record"
	ModeReplay   Mode = "replay"
)

// --- Request context annotations ---

// Annotations is the mutable bag of facts the pipeline accumulates about a
// request as it advances through dispatch, generation/forwarding, and
// rate limiting.
type Annotations struct {
	OperationName    Operation
	DeploymentName   string
	LimiterName      LimiterName
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FileSizeBytes    int
	TargetDurationMS float64
}

// --- Recorded response ---

// RecordedResponse is a single persisted interaction, keyed by its request
// fingerprint within one endpoint path's recording file.
type RecordedResponse struct {
	Fingerprint         string
	StatusCode          int
	Headers             http.Header
	Body                []byte
	DurationMS          int64
	ContextAnnotations  map[string]any
	Request             RequestSummary
}

// RequestSummary is the serializable shape of an inbound request, used both
// for recomputing fingerprints on load and for the on-disk recording format.
type RequestSummary struct {
	Method   string
	URI      string
	Headers  map[string][]string
	Body     []byte // nil once elided; BodyHash always set
	BodyHash string
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
