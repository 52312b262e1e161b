// Package generator synthesizes shape-correct responses for the four
// simulated operations (embeddings, completions, chat completions, audio
// translations) without any upstream dependency.
package generator

import (
	"context"
	"io"
	"net/http"
	"regexp"

	llmsim "github.com/eugener/llmsim/internal"
)

// StreamFunc writes a streaming response body, flushing after each chunk and
// checking ctx for client disconnect between chunks.
type StreamFunc func(ctx context.Context, w io.Writer, flush func()) error

// Response is a generator's synthesized result. Exactly one of Body or
// Stream is meaningful, indicated by Stream being non-nil.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Stream      StreamFunc
	Annotations llmsim.Annotations
}

// Request is the normalized inbound request a generator inspects.
type Request struct {
	Method                    string
	Path                      string // normalized, no query string
	Header                    http.Header
	Body                      []byte
	Query                     map[string]string
	AllowUndefinedDeployments bool
}

// Func is a single generator: it returns nil, nil when it does not recognize
// the request's route, so the dispatcher tries the next one.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Set is the ordered list of generators the pipeline dispatches through;
// the first non-nil response wins. Extensions append to this list.
type Set struct {
	generators []Func
}

// NewDefaultSet returns the built-in generator set in the order the
// reference implementation registers them.
func NewDefaultSet(resolver *Resolver, fillers *FillerCache) *Set {
	return &Set{generators: []Func{
		embeddingsGenerator(resolver),
		completionsGenerator(resolver, fillers),
		chatCompletionsGenerator(resolver, fillers),
		translationsGenerator(resolver, fillers),
	}}
}

// Register appends a generator to the end of the dispatch order.
func (s *Set) Register(f Func) {
	s.generators = append(s.generators, f)
}

// Dispatch runs req through each generator in order, returning the first
// non-nil response.
func (s *Set) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	for _, g := range s.generators {
		resp, err := g(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

var (
	embeddingsRoute       = regexp.MustCompile(`^/openai/deployments/([^/]+)/embeddings$`)
	completionsRoute      = regexp.MustCompile(`^/openai/deployments/([^/]+)/completions$`)
	chatCompletionsRoute  = regexp.MustCompile(`^/openai/deployments/([^/]+)/chat/completions$`)
	translationsRoute     = regexp.MustCompile(`^/openai/deployments/([^/]+)/audio/translations$`)
)

func deploymentFromRoute(route *regexp.Regexp, path string) (string, bool) {
	m := route.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ClassifyRoute reports the deployment name and operation a normalized path
// addresses, without running any generator. Record and replay mode use this
// to resolve a deployment for rate limiting purposes when no generator runs.
func ClassifyRoute(path string) (deployment string, operation llmsim.Operation, ok bool) {
	if name, ok := deploymentFromRoute(embeddingsRoute, path); ok {
		return name, llmsim.OperationEmbeddings, true
	}
	if name, ok := deploymentFromRoute(completionsRoute, path); ok {
		return name, llmsim.OperationCompletions, true
	}
	if name, ok := deploymentFromRoute(chatCompletionsRoute, path); ok {
		return name, llmsim.OperationChatCompletions, true
	}
	if name, ok := deploymentFromRoute(translationsRoute, path); ok {
		return name, llmsim.OperationTranslation, true
	}
	return "", "", false
}
