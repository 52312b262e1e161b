// Package forwarder issues the outbound HTTP call to the upstream service
// in record mode, scrubbing headers and extracting token usage so that
// recordings are compact and hermetic.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
)

// requestTimeout bounds every upstream call.
const requestTimeout = 30 * time.Second

// hopByHopDenyList are headers never copied from the inbound request to the
// outbound one: they are either connection-specific or carry the simulator's
// own credentials, which are replaced with the upstream key.
var hopByHopDenyList = map[string]struct{}{
	"content-length": {},
	"host":           {},
	"authorization":  {},
	"api-key":        {},
}

// responseDenyList are headers stripped from the upstream response before
// it is recorded or returned, keeping recordings compact and hermetic.
var responseDenyList = map[string]struct{}{
	"apim-request-id":            {},
	"azureml-model-session":      {},
	"x-accel-buffering":          {},
	"x-content-type-options":     {},
	"x-ms-client-request-id":     {},
	"x-ms-region":                {},
	"x-request-id":               {},
	"cache-control":              {},
	"content-length":             {},
	"date":                       {},
	"strict-transport-security":  {},
	"access-control-allow-origin": {},
}

// Forwarder issues upstream HTTP calls with a tuned transport.
type Forwarder struct {
	http *http.Client
}

// New returns a Forwarder. If resolver is non-nil its cached DNS lookups are
// wired into the transport's dialer.
func New(resolver *dnscache.Resolver) *Forwarder {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return &Forwarder{http: &http.Client{Transport: t}}
}

// Usage is the parsed OpenAI-format usage object, when present in the
// upstream's JSON response body.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the scrubbed upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Usage      *Usage
}

// Do forwards method+path+query+body+headers to baseURL, substituting
// apiKey for whatever credential the inbound request carried, and scrubs
// the response headers before returning.
func (f *Forwarder) Do(ctx context.Context, method, pathAndQuery string, headers http.Header, body []byte, baseURL, apiKey string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + pathAndQuery
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forwarder: create request: %w", err)
	}
	copyRequestHeaders(httpReq.Header, headers)
	httpReq.Header.Set("api-key", apiKey)

	resp, err := f.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forwarder: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("forwarder: read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     scrubResponseHeaders(resp.Header),
		Body:       respBody,
		Usage:      extractUsage(respBody),
	}, nil
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		if _, denied := hopByHopDenyList[strings.ToLower(k)]; denied {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func scrubResponseHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, vv := range src {
		if _, denied := responseDenyList[strings.ToLower(k)]; denied {
			continue
		}
		out[k] = vv
	}
	return out
}

// extractUsage pulls usage.{prompt_tokens,completion_tokens,total_tokens}
// out of a JSON body using targeted field lookups, avoiding a full unmarshal
// of potentially large response bodies.
func extractUsage(body []byte) *Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() || u.Type != gjson.JSON {
		return nil
	}
	total := u.Get("total_tokens")
	if !total.Exists() {
		return nil
	}
	return &Usage{
		PromptTokens:     int(u.Get("prompt_tokens").Int()),
		CompletionTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:      int(total.Int()),
	}
}
