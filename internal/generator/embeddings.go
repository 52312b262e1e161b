package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
)

type embeddingsRequestBody struct {
	Input      json.RawMessage `json:"input"`
	Dimensions *int            `json:"dimensions"`
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingsResponseBody struct {
	Object string             `json:"object"`
	Data   []embeddingDatum   `json:"data"`
	Model  string             `json:"model"`
	Usage  embeddingsUsage    `json:"usage"`
}

type embeddingsUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func embeddingsGenerator(resolver *Resolver) Func {
	return func(ctx context.Context, req *Request) (*Response, error) {
		name, ok := deploymentFromRoute(embeddingsRoute, req.Path)
		if !ok {
			return nil, nil
		}

		defaultModel, _ := catalogue.LookupModel(catalogue.DefaultEmbeddingModel)
		deployment, ok := resolver.Resolve(name, defaultModel, req.AllowUndefinedDeployments)
		if !ok {
			return nil, fmt.Errorf("%w: deployment %q", llmsim.ErrNotFound, name)
		}
		if err := CheckKind(deployment, llmsim.ModelEmbedding); err != nil {
			return nil, err
		}

		var body embeddingsRequestBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", llmsim.ErrBadRequest, err)
		}

		inputs, err := parseEmbeddingInputs(body.Input)
		if err != nil {
			return nil, err
		}

		embeddingSize := deployment.EmbeddingSize
		if embeddingSize == 0 {
			embeddingSize = 1536
		}
		if body.Dimensions != nil && deployment.Model.SupportsCustomDimensions {
			embeddingSize = *body.Dimensions
		}

		data := make([]embeddingDatum, len(inputs))
		promptTokens := 0
		for i, in := range inputs {
			promptTokens += EstimateTokens(in)
			data[i] = embeddingDatum{
				Object:    "embedding",
				Embedding: randomEmbedding(embeddingSize),
				Index:     i,
			}
		}

		respBody := embeddingsResponseBody{
			Object: "list",
			Data:   data,
			Model:  deployment.Model.Name,
			Usage:  embeddingsUsage{PromptTokens: promptTokens, TotalTokens: promptTokens},
		}
		encoded, err := json.Marshal(respBody)
		if err != nil {
			return nil, fmt.Errorf("encode embeddings response: %w", err)
		}

		return &Response{
			StatusCode:  200,
			ContentType: "application/json",
			Body:        encoded,
			Annotations: llmsim.Annotations{
				OperationName:  llmsim.OperationEmbeddings,
				DeploymentName: deployment.Name,
				LimiterName:    llmsim.LimiterTokens,
				PromptTokens:   promptTokens,
				TotalTokens:    promptTokens,
			},
		}, nil
	}
}

// parseEmbeddingInputs accepts either a single string or a list of strings,
// matching the OpenAI embeddings request shape.
func parseEmbeddingInputs(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	return nil, fmt.Errorf("%w: input must be a string or list of strings", llmsim.ErrBadRequest)
}

func randomEmbedding(size int) []float64 {
	values := make([]float64, size)
	for i := range values {
		values[i] = -2 + rand.Float64()*4
	}
	return values
}
