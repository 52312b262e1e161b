// Package simulator orchestrates one request end to end: path normalization,
// mode dispatch (generate/record/replay), rate limiting, and the latency
// envelope that paces responses to a simulated duration.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	llmsim "github.com/eugener/llmsim/internal"
	"github.com/eugener/llmsim/internal/catalogue"
	"github.com/eugener/llmsim/internal/config"
	"github.com/eugener/llmsim/internal/fingerprint"
	"github.com/eugener/llmsim/internal/forwarder"
	"github.com/eugener/llmsim/internal/generator"
	"github.com/eugener/llmsim/internal/ratelimit"
	"github.com/eugener/llmsim/internal/recordreplay"
)

// Request is the inbound request the pipeline normalizes and dispatches.
type Request struct {
	Method string
	Path   string // may contain a raw query string and doubled slashes
	Header http.Header
	Body   []byte
}

// Response is the pipeline's outcome: exactly one of Body or Stream is set,
// mirroring generator.Response.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Stream      generator.StreamFunc
}

// Metrics receives the pipeline's telemetry hooks. Implemented by
// internal/telemetry.Metrics; kept as a narrow interface here so this
// package does not depend on the telemetry or Prometheus wiring.
type Metrics interface {
	ObserveLatency(op llmsim.Operation, deployment string, status int, base, full time.Duration)
	ObserveTokens(op llmsim.Operation, tokens int)
	IncRateLimitReject(reason string)
}

// Pipeline wires together every subsystem a request touches.
type Pipeline struct {
	Config     *config.Manager
	Catalogue  *catalogue.Registry
	Generators *generator.Set
	Store      *recordreplay.Store
	Persister  *recordreplay.Persister
	Forwarder  *forwarder.Forwarder
	Limiter    *ratelimit.Registry
	Metrics    Metrics
	Logger     *slog.Logger
}

// Handle runs req through path normalization, mode dispatch, rate limiting,
// and the latency envelope. It never returns an error: every failure mode
// is represented as an HTTP status in the returned Response, including a
// recovered panic.
func (p *Pipeline) Handle(ctx context.Context, req *Request) (resp *Response) {
	start := time.Now()
	path, query := normalizePath(req.Path)

	defer func() {
		if rec := recover(); rec != nil {
			p.Logger.Error("panic recovered in pipeline", "error", rec, "path", path)
			resp = errorResponse(http.StatusInternalServerError, "InternalError", "internal error")
		}
	}()

	snapshot := p.Config.Snapshot()

	deployment, operation, routeOK := generator.ClassifyRoute(path)

	var (
		statusCode  int
		contentType string
		header      http.Header
		body        []byte
		stream      generator.StreamFunc
		annotations llmsim.Annotations
	)

	switch snapshot.Mode {
	case llmsim.ModeGenerate:
		gReq := &generator.Request{
			Method:                    req.Method,
			Path:                      path,
			Header:                    req.Header,
			Body:                      req.Body,
			AllowUndefinedDeployments: snapshot.AllowUndefinedDeployments,
		}
		gResp, err := p.Generators.Dispatch(ctx, gReq)
		switch {
		case err != nil:
			r := errorForErr(err)
			return p.finish(ctx, start, time.Now(), r, llmsim.Annotations{})
		case gResp == nil:
			return p.finish(ctx, start, time.Now(), errorResponse(http.StatusNotFound, "NotFound", "no route matches this path"), llmsim.Annotations{})
		default:
			statusCode, contentType, body, stream, annotations = gResp.StatusCode, gResp.ContentType, gResp.Body, gResp.Stream, gResp.Annotations
		}

	case llmsim.ModeRecord, llmsim.ModeReplay:
		if !routeOK {
			return p.finish(ctx, start, time.Now(), errorResponse(http.StatusNotFound, "NotFound", "no route matches this path"), llmsim.Annotations{})
		}
		d, ok := p.resolveDeployment(deployment, operation, snapshot.AllowUndefinedDeployments)
		if !ok {
			return p.finish(ctx, start, time.Now(), deploymentNotFoundResponse(deployment), llmsim.Annotations{})
		}

		fp, err := fingerprint.Hash(req.Method, path, req.Header, req.Body)
		if err != nil {
			return p.finish(ctx, start, time.Now(), errorResponse(http.StatusBadRequest, "BadRequest", err.Error()), llmsim.Annotations{})
		}

		limiterName := llmsim.LimiterTokens
		if operation == llmsim.OperationTranslation {
			limiterName = llmsim.LimiterRequests
		}

		if snapshot.Mode == llmsim.ModeReplay {
			r, ok := p.Store.Lookup(path, fp)
			if !ok {
				return p.finish(ctx, start, time.Now(), errorResponse(http.StatusInternalServerError, "NoRecording", "no recording found for this request"), llmsim.Annotations{})
			}
			statusCode, header, body = r.StatusCode, r.Headers, r.Body
			contentType = header.Get("Content-Type")
			annotations = llmsim.Annotations{OperationName: operation, DeploymentName: d.Name, LimiterName: limiterName}
			break
		}

		// record mode
		if r, ok := p.Store.Lookup(path, fp); ok {
			statusCode, header, body = r.StatusCode, r.Headers, r.Body
			contentType = header.Get("Content-Type")
			annotations = llmsim.Annotations{OperationName: operation, DeploymentName: d.Name, LimiterName: limiterName}
			break
		}

		upstream, err := p.Forwarder.Do(ctx, req.Method, path+query, req.Header, req.Body, p.Config.Static().UpstreamEndpoint, p.Config.Static().UpstreamAPIKey)
		if err != nil {
			return p.finish(ctx, start, time.Now(), errorResponse(http.StatusBadGateway, "UpstreamError", err.Error()), llmsim.Annotations{})
		}
		statusCode, header, body = upstream.StatusCode, upstream.Header, upstream.Body
		contentType = header.Get("Content-Type")
		annotations = llmsim.Annotations{OperationName: operation, DeploymentName: d.Name, LimiterName: limiterName}
		if upstream.Usage != nil {
			annotations.PromptTokens = upstream.Usage.PromptTokens
			annotations.CompletionTokens = upstream.Usage.CompletionTokens
			annotations.TotalTokens = upstream.Usage.TotalTokens
		}

		if statusCode < 300 {
			recorded := llmsim.RecordedResponse{
				Fingerprint: fp,
				StatusCode:  statusCode,
				Headers:     header,
				Body:        body,
				Request: llmsim.RequestSummary{
					Method:  req.Method,
					URI:     path + query,
					Headers: req.Header,
					Body:    req.Body,
				},
			}
			p.Store.InsertIfAbsent(path, recorded)
			if p.Config.Static().RecordingAutosave {
				if err := p.Persister.Save(path, p.Store.Entries(path)); err != nil {
					p.Logger.Error("autosave recording failed", "path", path, "error", err)
				}
			}
		}

	default:
		return p.finish(ctx, start, time.Now(), errorResponse(http.StatusInternalServerError, "InternalError", fmt.Sprintf("unknown mode %q", snapshot.Mode)), llmsim.Annotations{})
	}

	responseReady := time.Now()

	if statusCode < 300 && annotations.DeploymentName != "" {
		if rejected := p.applyLimiter(req.Body, annotations); rejected != nil {
			return p.finish(ctx, start, responseReady, rejected, llmsim.Annotations{})
		}
	}

	resp = &Response{StatusCode: statusCode, ContentType: contentType, Header: header, Body: body, Stream: stream}
	annotations.TargetDurationMS = targetDurationMS(snapshot.Latency, annotations)
	return p.finish(ctx, start, responseReady, resp, annotations)
}

// finish applies the latency envelope (padding + metrics) and returns resp.
func (p *Pipeline) finish(ctx context.Context, start, responseReady time.Time, resp *Response, annotations llmsim.Annotations) *Response {
	target := annotations.TargetDurationMS
	if target > 0 {
		elapsed := float64(time.Since(start).Milliseconds())
		if pad := target - elapsed; pad > 0 {
			select {
			case <-time.After(time.Duration(pad) * time.Millisecond):
			case <-ctx.Done():
			}
		}
	}

	if p.Metrics != nil {
		full := time.Since(start)
		base := responseReady.Sub(start)
		p.Metrics.ObserveLatency(annotations.OperationName, annotations.DeploymentName, resp.StatusCode, base, full)
		if annotations.TotalTokens > 0 {
			p.Metrics.ObserveTokens(annotations.OperationName, annotations.TotalTokens)
		}
	}
	return resp
}

// applyLimiter re-derives the admission cost from the raw request body (per
// the simulator's token-cost computation, independent of the response's own usage
// accounting) and consults the deployment's window. A rejection is returned
// as a ready-to-send 429 response; nil means the request is admitted.
func (p *Pipeline) applyLimiter(body []byte, annotations llmsim.Annotations) *Response {
	d, ok := p.Catalogue.Get(annotations.DeploymentName)
	if !ok {
		return nil
	}

	cost := tokenCost(annotations.OperationName, body)
	window := p.Limiter.GetOrCreate(d)
	result := window.AddRequest(cost, time.Now())
	if result.Allowed {
		return nil
	}

	if p.Metrics != nil {
		p.Metrics.IncRateLimitReject(result.Reason)
	}

	retryAfter := strconv.Itoa(result.RetryAfterSeconds)
	header := http.Header{"Retry-After": {retryAfter}}
	resetHeader := "x-ratelimit-reset-requests"
	if result.Reason == "tokens" {
		resetHeader = "x-ratelimit-reset-tokens"
	}
	header.Set(resetHeader, retryAfter)

	body2, _ := json.Marshal(errorBody{Error: errorDetail{
		Code:    "429",
		Message: fmt.Sprintf("Requests to the OpenAI API Simulator have exceeded call rate limit. Please retry after %s seconds.", retryAfter),
	}})
	return &Response{StatusCode: http.StatusTooManyRequests, ContentType: "application/json", Header: header, Body: body2}
}

// targetDurationMS computes the simulated duration for this response per
// each operation's scaling rule.
func targetDurationMS(lc config.LatencyConfig, a llmsim.Annotations) float64 {
	switch a.OperationName {
	case llmsim.OperationEmbeddings:
		return lc.Embeddings.Sample()
	case llmsim.OperationCompletions:
		return lc.Completions.Sample() * float64(max(a.CompletionTokens, 1))
	case llmsim.OperationChatCompletions:
		return lc.ChatCompletions.Sample() * float64(max(a.CompletionTokens, 1))
	case llmsim.OperationTranslation:
		return lc.Translations.Sample() * (float64(a.FileSizeBytes) / (1024 * 1024))
	default:
		return 0
	}
}

func (p *Pipeline) resolveDeployment(name string, op llmsim.Operation, allowUndefined bool) (llmsim.Deployment, bool) {
	if d, ok := p.Catalogue.Get(name); ok {
		return d, true
	}
	if !allowUndefined {
		return llmsim.Deployment{}, false
	}
	return llmsim.Deployment{
		Name:              name,
		Model:             catalogue.DefaultModelFor(op),
		TokensPerMinute:   20000,
		RequestsPerMinute: 20000,
		EmbeddingSize:     1536,
	}, true
}

// normalizePath collapses runs of '/' in the path portion of raw, returning
// the normalized path and the query string (with its leading '?', or "" if
// none) separately. Generators, the fingerprint, and the record/replay store
// key all operate on the path alone.
func normalizePath(raw string) (path, query string) {
	path = raw
	if idx := strings.IndexByte(raw, '?'); idx != -1 {
		path, query = raw[:idx], raw[idx:]
	}
	var b strings.Builder
	b.Grow(len(path))
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String(), query
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func errorResponse(status int, code, message string) *Response {
	body, _ := json.Marshal(errorBody{Error: errorDetail{Code: code, Message: message}})
	return &Response{StatusCode: status, ContentType: "application/json", Body: body}
}

// stringErrorResponse matches the simulator's plain-string error body shape,
// used for deployment-lookup failures ({"error":"Deployment X not found"}),
// distinct from the {"error":{"code","message"}} object shape used elsewhere.
func stringErrorResponse(status int, message string) *Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	return &Response{StatusCode: status, ContentType: "application/json", Body: body}
}

func deploymentNotFoundResponse(name string) *Response {
	return stringErrorResponse(http.StatusNotFound, fmt.Sprintf("Deployment %s not found", name))
}

func errorForErr(err error) *Response {
	switch {
	case err == nil:
		return errorResponse(http.StatusInternalServerError, "InternalError", "internal error")
	case errors.Is(err, llmsim.ErrOperationMismatch):
		return errorResponse(http.StatusBadRequest, "OperationNotSupported", err.Error())
	case errors.Is(err, llmsim.ErrBadRequest):
		return errorResponse(http.StatusBadRequest, "BadRequest", err.Error())
	case errors.Is(err, llmsim.ErrPayloadTooLarge):
		return errorResponse(http.StatusRequestEntityTooLarge, "PayloadTooLarge", err.Error())
	case errors.Is(err, llmsim.ErrNotFound):
		return stringErrorResponse(http.StatusNotFound, err.Error())
	default:
		return errorResponse(http.StatusInternalServerError, "InternalError", err.Error())
	}
}
