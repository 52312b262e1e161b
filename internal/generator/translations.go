package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
)

// maxTranslationFileSize is the largest audio file accepted, in bytes.
const maxTranslationFileSize = 26214400

// fillerModelForTranslations is the reference model key used to size
// translation filler text, independent of the deployment's own model.
const fillerModelForTranslations = "gpt-3.5-turbo-0301"

type translationTextBody struct {
	Text string `json:"text"`
}

func translationsGenerator(resolver *Resolver, fillers *FillerCache) Func {
	return func(ctx context.Context, req *Request) (*Response, error) {
		name, ok := deploymentFromRoute(translationsRoute, req.Path)
		if !ok {
			return nil, nil
		}

		defaultModel, _ := catalogue.LookupModel(catalogue.DefaultWhisperModel)
		deployment, ok := resolver.Resolve(name, defaultModel, req.AllowUndefinedDeployments)
		if !ok {
			return nil, fmt.Errorf("%w: deployment %q", llmsim.ErrNotFound, name)
		}
		if err := CheckKind(deployment, llmsim.ModelWhisper); err != nil {
			return nil, err
		}

		fileSize, responseFormat, err := parseTranslationForm(req.Header.Get("Content-Type"), req.Body)
		if err != nil {
			return nil, err
		}
		if fileSize == 0 || fileSize > maxTranslationFileSize {
			return nil, fmt.Errorf("%w: audio file size %d", llmsim.ErrPayloadTooLarge, fileSize)
		}

		maxTokensToGenerate := 10
		if fileSize >= 1000 {
			maxTokensToGenerate = (fileSize / 1000) * 10
		}
		text := fillers.Generate(fillerModelForTranslations, maxTokensToGenerate)

		var respBody []byte
		contentType := "text/plain"
		switch responseFormat {
		case "", "json":
			contentType = "application/json"
			respBody, err = json.Marshal(translationTextBody{Text: text})
			if err != nil {
				return nil, fmt.Errorf("encode translation response: %w", err)
			}
		default:
			respBody = []byte(text)
		}

		return &Response{
			StatusCode:  200,
			ContentType: contentType,
			Body:        respBody,
			Annotations: llmsim.Annotations{
				OperationName:  llmsim.OperationTranslation,
				DeploymentName: deployment.Name,
				LimiterName:    llmsim.LimiterRequests,
				FileSizeBytes:  fileSize,
			},
		}, nil
	}
}

// parseTranslationForm walks the multipart body to find the "file" field's
// size and the "response_format" field's value, without buffering the whole
// file into memory.
func parseTranslationForm(contentType string, body []byte) (fileSize int, responseFormat string, err error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "multipart/form-data" {
		return 0, "", fmt.Errorf("%w: expected multipart/form-data", llmsim.ErrBadRequest)
	}
	boundary, ok := params["boundary"]
	if !ok {
		return 0, "", fmt.Errorf("%w: multipart/form-data content type without boundary", llmsim.ErrBadRequest)
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", llmsim.ErrBadRequest, err)
		}

		switch part.FormName() {
		case "file":
			n, _ := io.Copy(io.Discard, part)
			fileSize = int(n)
		case "response_format":
			data, _ := io.ReadAll(part)
			responseFormat = string(data)
		}
		part.Close()
	}
	return fileSize, responseFormat, nil
}
