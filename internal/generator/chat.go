package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
	"github.com/eugener/llmsim/internal/sseutil"
)

// wordChunkDelay is the pause prescribed between streamed chat completion
// word chunks, so clients can observe streaming behavior.
const wordChunkDelay = 50 * time.Millisecond

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequestBody struct {
	Messages  []chatMessage `json:"messages"`
	MaxTokens *int          `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionsResponseBody struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   sseUsageJSON `json:"usage"`
}

func chatCompletionsGenerator(resolver *Resolver, fillers *FillerCache) Func {
	return func(ctx context.Context, req *Request) (*Response, error) {
		name, ok := deploymentFromRoute(chatCompletionsRoute, req.Path)
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

		var body chatCompletionsRequestBody
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", llmsim.ErrBadRequest, err)
		}

		var promptText strings.Builder
		for _, m := range body.Messages {
			promptText.WriteString(m.Content)
			promptText.WriteByte(' ')
		}
		promptTokens := EstimateTokens(promptText.String())
		effectiveMax := effectiveMaxTokens(body.MaxTokens, promptTokens)
		text := fillers.Generate(deployment.Model.Name, effectiveMax)
		completionTokens := EstimateTokens(text)

		annotations := llmsim.Annotations{
			OperationName:    llmsim.OperationChatCompletions,
			DeploymentName:   deployment.Name,
			LimiterName:      llmsim.LimiterTokens,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		}

		if body.Stream {
			id := "chatcmpl-" + uuid.NewString()
			return &Response{
				StatusCode:  200,
				ContentType: "text/event-stream",
				Stream:      chatStream(id, deployment.Model.Name, text, annotations),
				Annotations: annotations,
			}, nil
		}

		id := "chatcmpl-" + uuid.NewString()
		respBody := chatCompletionsResponseBody{
			ID:     id,
			Object: "chat.completion",
			Model:  deployment.Model.Name,
			Choices: []chatChoice{{
				Index:        0,
				Message:      chatMessage{Role: "assistant", Content: text},
				FinishReason: "stop",
			}},
			Usage: sseUsageJSON{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		}
		encoded, err := json.Marshal(respBody)
		if err != nil {
			return nil, fmt.Errorf("encode chat completions response: %w", err)
		}

		return &Response{
			StatusCode:  200,
			ContentType: "application/json",
			Body:        encoded,
			Annotations: annotations,
		}, nil
	}
}

// chatStream returns a StreamFunc that emits one SSE chunk per
// whitespace-delimited word, pausing wordChunkDelay between chunks, then a
// terminal finish_reason chunk, a usage chunk, and the [DONE] sentinel.
// Writing stops promptly if ctx is canceled.
func chatStream(id, model, text string, annotations llmsim.Annotations) StreamFunc {
	words := strings.Fields(text)
	return func(ctx context.Context, w io.Writer, flush func()) error {
		for i, word := range words {
			delta := map[string]any{"content": word + " "}
			if i == 0 {
				delta["role"] = "assistant"
			}
			if err := writeSSEChunk(w, sseutil.BuildDeltaChunk(id, model, delta, "")); err != nil {
				return err
			}
			flush()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wordChunkDelay):
			}
		}

		if err := writeSSEChunk(w, sseutil.BuildFinishChunk(id, model, "stop")); err != nil {
			return err
		}
		flush()

		usage := sseutil.Usage{
			PromptTokens:     annotations.PromptTokens,
			CompletionTokens: annotations.CompletionTokens,
			TotalTokens:      annotations.TotalTokens,
		}
		if err := writeSSEChunk(w, sseutil.BuildUsageChunk(id, model, usage)); err != nil {
			return err
		}
		flush()

		_, err := w.Write([]byte("data: [DONE]\n\n"))
		flush()
		return err
	}
}

func writeSSEChunk(w io.Writer, data []byte) error {
	_, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n'))
	return err
}
