// Package fingerprint computes the stable request identity used to key
// record/replay lookups: a hash of method, path, and body that is immune to
// the per-request multipart boundary values HTTP clients generate fresh on
// every call.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// staticBoundary is substituted for whatever boundary value a multipart
// request declares, so two requests that differ only in boundary hash
// identically.
const staticBoundary = "--AOAI-API-SIMULATOR-BOUNDARY"

// ErrMissingBoundary is returned when a request declares a multipart
// content type but its boundary parameter is absent.
var ErrMissingBoundary = errors.New("multipart/form-data content type without boundary")

// Hash computes the fingerprint of a method, path, and body, given the
// request's headers (consulted only for Content-Type).
func Hash(method, path string, headers http.Header, body []byte) (string, error) {
	bodyHash, err := hashBody(headers, body)
	if err != nil {
		return "", err
	}
	return hashParts(method, path, bodyHash), nil
}

func hashBody(headers http.Header, body []byte) (string, error) {
	contentType := headers.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		normalized, err := normalizeMultipartBoundary(contentType, body)
		if err != nil {
			return "", err
		}
		body = normalized
	}
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeMultipartBoundary(contentType string, body []byte) ([]byte, error) {
	idx := strings.Index(contentType, "boundary=")
	if idx < 0 {
		return nil, ErrMissingBoundary
	}
	boundary := []byte("--" + contentType[idx+len("boundary="):])
	static := []byte(staticBoundary)

	if len(body) >= len(boundary) && string(body[:len(boundary)]) == string(boundary) {
		body = append(append([]byte{}, static...), body[len(boundary):]...)
	}
	return bytesReplace(body, append([]byte("\n"), boundary...), append([]byte("\n"), static...)), nil
}

func bytesReplace(body, old, new []byte) []byte {
	return []byte(strings.ReplaceAll(string(body), string(old), string(new)))
}

func hashParts(method, path, bodyHash string) string {
	sum := md5.Sum([]byte(method + "|" + path + "|" + bodyHash))
	return hex.EncodeToString(sum[:])
}

// HashWithBodyHash computes the fingerprint directly from a precomputed body
// hash, used when reloading a recording whose body was elided on save.
func HashWithBodyHash(method, path, bodyHash string) string {
	return hashParts(method, path, bodyHash)
}
