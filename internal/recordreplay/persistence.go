package recordreplay

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/fingerprint"
)

// maxInlineBodySize is the largest request body saved literally; larger
// bodies are elided on save and only their hash is retained.
const maxInlineBodySize = 1024

type yamlRequest struct {
	Method   string              `yaml:"method"`
	URI      string              `yaml:"uri"`
	Headers  map[string][]string `yaml:"headers"`
	Body     *string             `yaml:"body"`
	BodyHash string              `yaml:"body_hash,omitempty"`
}

type yamlStatus struct {
	Code int `yaml:"code"`
}

type yamlBody struct {
	String *string `yaml:"string"`
}

type yamlResponse struct {
	Status     yamlStatus          `yaml:"status"`
	Headers    map[string][]string `yaml:"headers"`
	Body       yamlBody            `yaml:"body"`
	DurationMS int64               `yaml:"duration_ms"`
}

type yamlInteraction struct {
	Request       yamlRequest    `yaml:"request"`
	Response      yamlResponse   `yaml:"response"`
	ContextValues map[string]any `yaml:"context_values"`
}

type yamlRecording struct {
	Interactions []yamlInteraction `yaml:"interactions"`
	Version      int               `yaml:"version"`
}

// Persister saves and loads recording files under one directory, one YAML
// document per logical endpoint path.
type Persister struct {
	dir string
}

// NewPersister returns a Persister rooted at dir.
func NewPersister(dir string) *Persister {
	return &Persister{dir: dir}
}

// FilePathFor derives the recording file path for a URL path: "/" replaced
// with "_", query string stripped, ".yaml" appended.
func (p *Persister) FilePathFor(urlPath string) string {
	if idx := strings.Index(urlPath, "?"); idx != -1 {
		urlPath = urlPath[:idx]
	}
	name := strings.Trim(urlPath, "/")
	name = strings.ReplaceAll(name, "/", "_") + ".yaml"
	return filepath.Join(p.dir, name)
}

// Save writes all entries for one endpoint path to its recording file,
// eliding bodies over maxInlineBodySize and always retaining a body hash.
func (p *Persister) Save(urlPath string, entries []llmsim.RecordedResponse) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	interactions := make([]yamlInteraction, len(entries))
	for i, r := range entries {
		req := yamlRequest{
			Method:   r.Request.Method,
			URI:      r.Request.URI,
			Headers:  r.Request.Headers,
			BodyHash: r.Request.BodyHash,
		}
		if req.BodyHash == "" && r.Request.Body != nil {
			hash, err := fingerprint.Hash(req.Method, pathOf(req.URI), headersFromMulti(req.Headers), r.Request.Body)
			if err != nil {
				return fmt.Errorf("hash request body: %w", err)
			}
			req.BodyHash = hash
		}
		if r.Request.Body != nil && len(r.Request.Body) <= maxInlineBodySize {
			s := string(r.Request.Body)
			req.Body = &s
		}

		var bodyString *string
		if r.Body != nil {
			s := string(r.Body)
			bodyString = &s
		}

		interactions[i] = yamlInteraction{
			Request: req,
			Response: yamlResponse{
				Status:     yamlStatus{Code: r.StatusCode},
				Headers:    r.Headers,
				Body:       yamlBody{String: bodyString},
				DurationMS: r.DurationMS,
			},
			ContextValues: r.ContextAnnotations,
		}
	}

	data, err := yaml.Marshal(yamlRecording{Interactions: interactions, Version: 1})
	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}

	path := p.FilePathFor(urlPath)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recording %s: %w", path, err)
	}
	return nil
}

// Load reads the recording file for urlPath, if present, returning its
// entries keyed by recomputed fingerprint. Returns (nil, false, nil) when no
// file exists for this path.
func (p *Persister) Load(urlPath string) (map[string]llmsim.RecordedResponse, bool, error) {
	path := p.FilePathFor(urlPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read recording %s: %w", path, err)
	}

	var recording yamlRecording
	if err := yaml.Unmarshal(data, &recording); err != nil {
		return nil, false, fmt.Errorf("parse recording %s: %w", path, err)
	}

	entries := make(map[string]llmsim.RecordedResponse, len(recording.Interactions))
	for _, interaction := range recording.Interactions {
		req := interaction.Request
		bodyHash := req.BodyHash
		if bodyHash == "" {
			if req.Body == nil {
				return nil, false, fmt.Errorf("recording %s: no body or body_hash for request %s", path, req.URI)
			}
			hash, err := fingerprint.Hash(req.Method, pathOf(req.URI), headersFromMulti(req.Headers), []byte(*req.Body))
			if err != nil {
				return nil, false, fmt.Errorf("recording %s: hash request body: %w", path, err)
			}
			bodyHash = hash
		}

		fp := fingerprint.HashWithBodyHash(req.Method, pathOf(req.URI), bodyHash)

		var body []byte
		if interaction.Response.Body.String != nil {
			body = []byte(*interaction.Response.Body.String)
		}
		var reqBody []byte
		if req.Body != nil {
			reqBody = []byte(*req.Body)
		}

		entries[fp] = llmsim.RecordedResponse{
			Fingerprint:        fp,
			StatusCode:         interaction.Response.Status.Code,
			Headers:            headersFromMulti(interaction.Response.Headers),
			Body:               body,
			DurationMS:         interaction.Response.DurationMS,
			ContextAnnotations: interaction.ContextValues,
			Request: llmsim.RequestSummary{
				Method:   req.Method,
				URI:      req.URI,
				Headers:  req.Headers,
				Body:     reqBody,
				BodyHash: bodyHash,
			},
		}
	}
	return entries, true, nil
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func headersFromMulti(h map[string][]string) http.Header {
	return http.Header(h)
}
