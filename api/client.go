// Package api submits serials to the remote tag service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/buildinfo"
	"github.com/nedpals/davi-tag-agent/logging"
)

// DefaultSearchPath is resolved against the base endpoint for Search.
const DefaultSearchPath = "search"

const maxBodyBytes = 1 << 20

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSearchPath sets the search endpoint. A relative path is appended to
// the base endpoint path; an absolute path or URL replaces it.
func WithSearchPath(path string) Option {
	return func(c *Client) {
		c.searchPath = path
	}
}

// WithTimeout bounds each request. Zero means no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client posts serials to the submit and search endpoints.
//
// Every call returns a Result; failures are classified, never returned as
// errors and never retried.
type Client struct {
	baseURL    *url.URL
	searchURL  *url.URL
	searchPath string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a client for the given base endpoint.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: must be an absolute http(s) url", baseURL)
	}

	c := &Client{
		baseURL:    u,
		searchPath: DefaultSearchPath,
		httpClient: &http.Client{},
		logger:     logging.Component("api"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.searchURL, err = resolveSearch(u, c.searchPath)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func resolveSearch(base *url.URL, path string) (*url.URL, error) {
	if path == "" {
		path = DefaultSearchPath
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid search path: %w", err)
	}
	if ref.IsAbs() || strings.HasPrefix(path, "/") {
		return base.ResolveReference(ref), nil
	}
	return base.JoinPath(ref.Path), nil
}

// Endpoint returns the submit endpoint.
func (c *Client) Endpoint() string {
	return c.baseURL.String()
}

// SearchEndpoint returns the search endpoint.
func (c *Client) SearchEndpoint() string {
	return c.searchURL.String()
}

// Submit posts the serial to the base endpoint.
func (c *Client) Submit(ctx context.Context, serial string) Result {
	return c.post(ctx, c.baseURL, serial)
}

// Search posts the serial to the search endpoint.
func (c *Client) Search(ctx context.Context, serial string) Result {
	return c.post(ctx, c.searchURL, serial)
}

// SubmitAsync runs Submit on its own goroutine. The channel receives
// exactly one Result.
func (c *Client) SubmitAsync(ctx context.Context, serial string) <-chan Result {
	return async(func() Result { return c.Submit(ctx, serial) })
}

// SearchAsync runs Search on its own goroutine. The channel receives
// exactly one Result.
func (c *Client) SearchAsync(ctx context.Context, serial string) <-chan Result {
	return async(func() Result { return c.Search(ctx, serial) })
}

func async(call func() Result) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- call()
	}()
	return ch
}

type requestBody struct {
	Serial string `json:"serial"`
}

func (c *Client) post(ctx context.Context, endpoint *url.URL, serial string) Result {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(requestBody{Serial: serial})
	if err != nil {
		return transportError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return transportError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	c.logger.Debug().Str("url", endpoint.String()).RawJSON("request", body).Msg("api request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("serial", serial).Msg("api call failed")
		return transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("reading api response failed")
		return transportError(fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug().Int("status", resp.StatusCode).Bytes("body", raw).Msg("api response")

	result := classify(resp.StatusCode, raw)
	if !result.OK() {
		c.logger.Warn().
			Str("serial", serial).
			Stringer("kind", result.Kind).
			Int("status", result.Status).
			Str("message", result.Message).
			Msg("api error")
	}
	return result
}

// classify turns a received response into a Result.
func classify(status int, raw []byte) Result {
	if status < 200 || status > 299 {
		text := strings.TrimSpace(string(raw))
		shown := text
		if shown == "" {
			shown = "unknown error"
		}
		return Result{
			Kind:    ResultApplicationError,
			Message: fmt.Sprintf("HTTP %d: %s", status, shown),
			Status:  status,
			Body:    text,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return Result{Kind: ResultSuccess, Status: status}
	}
	if !json.Valid(raw) {
		return Result{
			Kind:    ResultTransportError,
			Message: "malformed response: body is not valid JSON",
			Status:  status,
			Body:    string(raw),
		}
	}

	if msg, failed := applicationError(raw); failed {
		return Result{
			Kind:    ResultApplicationError,
			Message: msg,
			Status:  status,
			Payload: json.RawMessage(raw),
		}
	}

	return Result{Kind: ResultSuccess, Status: status, Payload: json.RawMessage(raw)}
}

// applicationError inspects the "error" field of a JSON object body. A
// missing or falsy field means success.
func applicationError(raw []byte) (string, bool) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// Arrays and scalars carry no error field.
		return "", false
	}
	if !truthy(envelope.Error) {
		return "", false
	}

	var detail struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil && detail.Message != "" {
		return detail.Message, true
	}
	var text string
	if err := json.Unmarshal(envelope.Error, &text); err == nil && text != "" {
		return text, true
	}
	return "error in response", true
}

func truthy(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", "false", `""`, "0":
		return false
	}
	return true
}

func transportError(err error) Result {
	return Result{Kind: ResultTransportError, Message: err.Error()}
}
