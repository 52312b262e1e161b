package generator

import (
	"context"
	"encoding/json"
	"fmt"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
)

// modelContextLimit approximates the model's total context window in tokens,
// used to bound an effective max_tokens when the request doesn't supply a
// tighter one. Tokenization and context-limit fidelity with the real vendor
// are not goals; this constant is a stand-in.
const modelContextLimit = 4096

type completionsRequestBody struct {
	Prompt    json.RawMessage `json:"prompt"`
	MaxTokens *int            `json:"max_tokens"`
}

type completionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

type completionsResponseBody struct {
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   sseUsageJSON       `json:"usage"`
}

type sseUsageJSON struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func completionsGenerator(resolver *Resolver, fillers *FillerCache) Func {
	return func(ctx context.Context, req *Request) (*Response, error) {
		name, ok := deploymentFromRoute(completionsRoute, req.Path)
		if !ok {
			return nil, nil
		}

		defaultModel, _ := catalogue.LookupModel(catalogue.DefaultChatModel)
		deployment, ok := resolver.Resolve(name, defaultModel, req.AllowUndefinedDeployments)
		if !ok {
			return nil, fmt.Errorf("%w: deployment %q", llmsim.ErrNotFound, name)
		}
		if err := CheckKind(deployment, llmsim.ModelChat); err != nil {
			return nil, err
		}

		var body completionsRequestBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", llmsim.ErrBadRequest, err)
		}

		prompt := rawJSONString(body.Prompt)
		promptTokens := EstimateTokens(prompt)
		effectiveMax := effectiveMaxTokens(body.MaxTokens, promptTokens)

		text := fillers.Generate(deployment.Model.Name, effectiveMax)
		completionTokens := EstimateTokens(text)

		respBody := completionsResponseBody{
			Object: "text_completion",
			Model:  deployment.Model.Name,
			Choices: []completionChoice{{
				Text:         text,
				Index:        0,
				FinishReason: "length",
			}},
			Usage: sseUsageJSON{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		}
		encoded, err := json.Marshal(respBody)
		if err != nil {
			return nil, fmt.Errorf("encode completions response: %w", err)
		}

		return &Response{
			StatusCode:  200,
			ContentType: "application/json",
			Body:        encoded,
			Annotations: llmsim.Annotations{
				OperationName:    llmsim.OperationCompletions,
				DeploymentName:   deployment.Name,
				LimiterName:      llmsim.LimiterTokens,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		}, nil
	}
}

func effectiveMaxTokens(requested *int, promptTokens int) int {
	limit := modelContextLimit - promptTokens
	if limit < 0 {
		limit = 0
	}
	if requested != nil && *requested < limit {
		return *requested
	}
	return limit
}

func rawJSONString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
