// Package bridge forwards tool calls to the remote practice-management
// platform over its REST API.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/backoff"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds a single platform request.
const DefaultTimeout = 30 * time.Second

// DefaultRetries is the retry cap for transient platform responses.
const DefaultRetries = 3

// UnavailableError reports that the platform could not be reached at all,
// as opposed to the platform answering with an error.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("platform backend unavailable (%s): %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Kind() string { return "remote_unavailable" }

func (e *UnavailableError) Detail() map[string]any {
	return map[string]any{"backend_required": true}
}

// Client calls the platform API. It is safe for concurrent use.
type Client struct {
	BaseURL    string
	Token      string
	UserID     string
	FirmID     string
	HTTPClient *http.Client
	Retry      backoff.Policy
}

// New returns a client for baseURL (e.g. "http://localhost:3001").
func New(baseURL, token, userID, firmID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		UserID:  userID,
		FirmID:  firmID,
		Retry:   backoff.Policy{MaxAttempts: DefaultRetries, Base: time.Second, Max: 8 * time.Second, RateLimitWait: 5 * time.Second},
	}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func retryablePlatform(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get issues a GET against path (which may carry a query string).
func (c *Client) Get(ctx context.Context, path string) (tools.Result, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (tools.Result, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// do performs one logical request with transient retry. Transport failures
// return an *UnavailableError. Non-2xx responses come back as failure
// results, not Go errors, so the model can see what the platform said.
func (c *Client) do(ctx context.Context, method, path string, body any) (tools.Result, error) {
	if c.BaseURL == "" {
		return nil, &UnavailableError{Op: method + " " + path, Err: errors.New("backend URL not configured")}
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	for attempt := 0; ; attempt++ {
		status, header, respBody, err := c.roundTrip(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &UnavailableError{Op: method + " " + path, Err: err}
		}
		if status >= 200 && status < 300 {
			return decodeResult(respBody), nil
		}
		if retryablePlatform(status) && attempt < c.Retry.MaxAttempts {
			d := c.Retry.Delay(attempt, status, header.Get("Retry-After"))
			slog.Warn("platform request retry", "method", method, "path", path, "status", status, "attempt", attempt+1, "wait", d)
			if err := c.Retry.Wait(ctx, d); err != nil {
				return nil, err
			}
			continue
		}
		slog.Error("platform api error", "method", method, "path", path, "status", status)
		return errorResult(status, respBody), nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) (int, http.Header, []byte, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, b, nil
}

// decodeResult passes a JSON object through verbatim; other JSON values are
// wrapped under "data".
func decodeResult(b []byte) tools.Result {
	if len(bytes.TrimSpace(b)) == 0 {
		return tools.OK(nil)
	}
	parsed := gjson.ParseBytes(b)
	if parsed.IsObject() {
		var out tools.Result
		if err := json.Unmarshal(b, &out); err == nil {
			return out
		}
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return tools.OK(map[string]any{"data": string(b)})
	}
	return tools.OK(map[string]any{"data": v})
}

func errorResult(status int, b []byte) tools.Result {
	if gjson.ValidBytes(b) && gjson.GetBytes(b, "error").Exists() {
		var out tools.Result
		if err := json.Unmarshal(b, &out); err == nil {
			if _, ok := out["success"]; !ok {
				out["success"] = false
			}
			return out
		}
	}
	return tools.Result{
		"success": false,
		"error":   fmt.Sprintf("API error %d: %s", status, strings.TrimSpace(string(b))),
	}
}
