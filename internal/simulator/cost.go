package simulator

import (
	"encoding/json"
	"math"

	llmsim "github.com/eugener/llmsim/internal"
)

// tokenCost computes the admission cost charged against the TPM window,
// independent of whatever usage the response body reports: if the request
// specifies max_tokens, that value is charged; otherwise a fixed per-operation
// constant, except embeddings which charge ceil(len/4) of each input string,
// summed.
func tokenCost(op llmsim.Operation, body []byte) int {
	var withMax struct {
		MaxTokens *int `json:"max_tokens"`
	}
	if json.Unmarshal(body, &withMax) == nil && withMax.MaxTokens != nil {
		return *withMax.MaxTokens
	}

	switch op {
	case llmsim.OperationChatCompletions, llmsim.OperationCompletions:
		return 16
	case llmsim.OperationEmbeddings:
		return embeddingsTokenCost(body)
	default:
		return 0
	}
}

func embeddingsTokenCost(body []byte) int {
	var req struct {
		Input json.RawMessage `json:"input"`
	}
	if json.Unmarshal(body, &req) != nil {
		return 0
	}

	var single string
	if json.Unmarshal(req.Input, &single) == nil {
		return int(math.Ceil(float64(len(single)) / 4))
	}
	var list []string
	if json.Unmarshal(req.Input, &list) == nil {
		total := 0
		for _, s := range list {
			total += int(math.Ceil(float64(len(s)) / 4))
		}
		return total
	}
	return 0
}
