package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"learnmusic/courseclient/internal/observability"
)

const (
	DefaultAuthHeader = "auth-token"
	RequestIDHeader   = "X-Request-Id"
)

var (
	ErrHTTPFailure    = errors.New("remote returned failure status")
	ErrNetworkFailure = errors.New("network failure")
)

// HTTPError is a non-2xx response. Body holds the response only when it
// parsed as JSON.
type HTTPError struct {
	Status int
	Body   json.RawMessage
}

func (e *HTTPError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("remote returned status %d", e.Status)
}

func (e *HTTPError) Is(target error) bool { return target == ErrHTTPFailure }

type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network failure: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetworkFailure }

// TokenSource is the read side of the session store.
type TokenSource interface {
	Get(ctx context.Context) (string, bool, error)
}

type Options struct {
	HTTPClient *http.Client
	AuthHeader string
	Logger     *zap.Logger
}

// Client issues JSON requests. It never retries, caches or deduplicates;
// every call is independent.
type Client struct {
	http       *http.Client
	tokens     TokenSource
	authHeader string
	log        *zap.Logger
}

func NewClient(tokens TokenSource, opts Options) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	header := opts.AuthHeader
	if header == "" {
		header = DefaultAuthHeader
	}
	return &Client{
		http:       httpClient,
		tokens:     tokens,
		authHeader: header,
		log:        observability.OrNop(opts.Logger).Named("api"),
	}, nil
}

// Request sends body (JSON-encoded when non-nil) and returns the raw response
// body of a 2xx reply. With authorize set the stored token is attached; a
// missing token sends the request without the header.
func (c *Client) Request(ctx context.Context, method, url string, body any, authorize bool) (json.RawMessage, error) {
	if !authorize {
		return c.do(ctx, method, url, body, "", false)
	}
	token, ok, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, method, url, body, token, ok)
}

// RequestAs is an authorized Request that sends token instead of reading the
// store, for callers that already derived other fields from that token.
func (c *Client) RequestAs(ctx context.Context, method, url string, body any, token string) (json.RawMessage, error) {
	return c.do(ctx, method, url, body, token, token != "")
}

func (c *Client) do(ctx context.Context, method, url string, body any, token string, authorize bool) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := EncodeJSON(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	if authorize {
		req.Header.Set(c.authHeader, token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response body: %w", err)}
	}

	c.log.Debug("request completed",
		zap.String("method", method),
		zap.String("url", url),
		zap.String("request_id", reqID),
		zap.Bool("authorized", authorize),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Status: resp.StatusCode}
		if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && json.Valid(trimmed) {
			httpErr.Body = json.RawMessage(trimmed)
		}
		return nil, httpErr
	}
	return json.RawMessage(payload), nil
}

// EncodeJSON marshals v the way a browser's JSON.stringify would: no HTML
// escaping, raw U+2028/U+2029 and no trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes encoding/json
// always emits back into raw characters. Escapes are walked pairwise so an
// escaped backslash followed by "u2028" text is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if i+5 < len(b) && b[i+1] == 'u' && string(b[i+2:i+5]) == "202" && (b[i+5] == '8' || b[i+5] == '9') {
			if b[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}
