package catalogue

import llmsim "github.com/eugener/llmsim/internal"

// knownModels is the fixed set of model descriptors the simulator recognizes,
// mirroring the reference implementation's model catalogue.
var knownModels = map[string]llmsim.ModelDescriptor{
	"gpt-3.5-turbo":      {Name: "gpt-3.5-turbo", Kind: llmsim.ModelChat, SupportsJSONSchema: true},
	"gpt-3.5-turbo-0613":  {Name: "gpt-3.5-turbo-0613", Kind: llmsim.ModelChat, SupportsJSONSchema: true},
	"gpt-4":                {Name: "gpt-4", Kind: llmsim.ModelChat, SupportsJSONSchema: true},
	"gpt-4o":               {Name: "gpt-4o", Kind: llmsim.ModelChat, SupportsJSONSchema: true},
	"text-embedding-ada-001": {Name: "text-embedding-ada-001", Kind: llmsim.ModelEmbedding, SupportsCustomDimensions: false},
	"text-embedding-ada-002": {Name: "text-embedding-ada-002", Kind: llmsim.ModelEmbedding, SupportsCustomDimensions: false},
	"text-embedding-3-small": {Name: "text-embedding-3-small", Kind: llmsim.ModelEmbedding, SupportsCustomDimensions: true},
	"text-embedding-3-medium": {Name: "text-embedding-3-medium", Kind: llmsim.ModelEmbedding, SupportsCustomDimensions: true},
	"text-embedding-3-large":  {Name: "text-embedding-3-large", Kind: llmsim.ModelEmbedding, SupportsCustomDimensions: true},
	"text-embedding-3-xlarge": {Name: "text-embedding-3-xlarge", Kind: llmsim.ModelEmbedding, SupportsCustomDimensions: true},
	"whisper": {Name: "whisper", Kind: llmsim.ModelWhisper},
}

const (
	DefaultChatModel      = "gpt-3.5-turbo"
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultWhisperModel   = "whisper"
)

// LookupModel returns the descriptor for a known model name.
func LookupModel(name string) (llmsim.ModelDescriptor, bool) {
	m, ok := knownModels[name]
	return m, ok
}

// DefaultModelFor returns the default model descriptor substituted for an
// undefined deployment addressed by the given operation.
func DefaultModelFor(op llmsim.Operation) llmsim.ModelDescriptor {
	switch op {
	case llmsim.OperationEmbeddings:
		m, _ := LookupModel(DefaultEmbeddingModel)
		return m
	case llmsim.OperationTranslation:
		m, _ := LookupModel(DefaultWhisperModel)
		return m
	default:
		m, _ := LookupModel(DefaultChatModel)
		return m
	}
}
