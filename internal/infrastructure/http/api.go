package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"crosspost/internal/domain"
)

// maxResponseBytes bounds how much of an API response body is read
const maxResponseBytes = 4 << 20

// CodeRateLimitedUpstream is the error code used when a platform answers 429
const CodeRateLimitedUpstream = "rate_limited_upstream"

// Response is a fully read API response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return domain.WrapPublishError(domain.ErrorKindUpstreamRejected, err,
			"decode response: body=%s", PreviewBody(r.Body))
	}
	return nil
}

// Send performs req and reads the whole response body
func (c *HTTPClient) Send(req *http.Request) (*Response, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s%s: %w", req.Method, req.URL.Host, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// StatusKind maps an HTTP status code to the error taxonomy
func StatusKind(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrorKindAuthExpired
	case status >= http.StatusInternalServerError:
		return domain.ErrorKindUpstreamUnavailable
	default:
		return domain.ErrorKindUpstreamRejected
	}
}

// StatusError builds the PublishError for a non-2xx response.
// An empty message falls back to a preview of the body.
func StatusError(status int, code, message string, body []byte) *domain.PublishError {
	if message == "" {
		message = PreviewBody(body)
	}
	kind := StatusKind(status)
	if status == http.StatusTooManyRequests {
		code = CodeRateLimitedUpstream
	}
	return domain.NewPublishError(kind, code, "status %d: %s", status, message)
}

// PreviewBody trims a response body for error messages
func PreviewBody(body []byte) string {
	return domain.Truncate(strings.TrimSpace(string(body)), 512)
}

// CombinePath joins a base URL and a path. Absolute URLs are returned unchanged.
func CombinePath(baseURL, path string) string {
	if path == "" {
		return baseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// NewJSONRequest builds a request with a JSON body and optional bearer token
func NewJSONRequest(ctx context.Context, method, url string, payload any, accessToken string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

// NewFormRequest builds a request with a form-encoded body and optional bearer token
func NewFormRequest(ctx context.Context, method, url string, form url.Values, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}
