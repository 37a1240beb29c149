package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/backoff"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Defaults for the Azure client.
const (
	DefaultAPIVersion    = "2024-12-01-preview"
	DefaultRetries       = 6
	DefaultRateLimitWait = 30 * time.Second
	DefaultTimeout       = 180 * time.Second
)

// StatusError is a non-2xx model response.
type StatusError struct {
	Status     int
	Message    string
	RetryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API error %d: %s", e.Status, e.Message)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool { return backoff.Retryable(e.Status) }

// ErrRetriesExhausted wraps the last failure once the retry cap is hit.
var ErrRetriesExhausted = errors.New("max retries exceeded for model API")

// AzureConfig locates an Azure OpenAI chat deployment.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// URL returns the chat-completions URL for the deployment.
func (c AzureConfig) URL() string {
	v := c.APIVersion
	if v == "" {
		v = DefaultAPIVersion
	}
	return strings.TrimRight(c.Endpoint, "/") + "/openai/deployments/" + url.PathEscape(c.Deployment) +
		"/chat/completions?api-version=" + url.QueryEscape(v)
}

// Azure is a Model backed by an Azure OpenAI deployment.
type Azure struct {
	Config     AzureConfig
	HTTPClient *http.Client
	Retry      backoff.Policy
	// OnRetry, when set, is told about each retry before the wait.
	OnRetry func(attempt, status int, wait time.Duration, err error)
}

// NewAzure returns a client with the default retry policy: six retries,
// 2^attempt seconds between server errors, Retry-After (or 30s) on 429.
func NewAzure(cfg AzureConfig) *Azure {
	return &Azure{
		Config: cfg,
		Retry:  backoff.Policy{MaxAttempts: DefaultRetries, Base: time.Second, RateLimitWait: DefaultRateLimitWait},
	}
}

func (a *Azure) client() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

type chatBody struct {
	Messages          []Message `json:"messages"`
	Temperature       float64   `json:"temperature"`
	MaxTokens         int       `json:"max_tokens"`
	Tools             []Tool    `json:"tools,omitempty"`
	ToolChoice        string    `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool     `json:"parallel_tool_calls,omitempty"`
}

// Complete sends req, retrying transient failures in place. Tool calls are
// never parallelized.
func (a *Azure) Complete(ctx context.Context, req Request) (*Response, error) {
	body := chatBody{Messages: req.Messages, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	if len(req.Tools) > 0 {
		no := false
		body.Tools = req.Tools
		body.ToolChoice = "auto"
		body.ParallelToolCalls = &no
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := a.once(ctx, payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *StatusError
		status := 0
		if errors.As(err, &se) {
			if !se.Transient() {
				return nil, err
			}
			status = se.Status
		}
		lastErr = err
		if attempt >= a.Retry.MaxAttempts {
			break
		}
		retryAfter := ""
		if se != nil {
			retryAfter = se.RetryAfter
		}
		wait := a.Retry.Delay(attempt, status, retryAfter)
		slog.Warn("model call failed, retrying", "attempt", attempt+1, "status", status, "wait", wait, "err", err)
		otel.RecordModelRetry(ctx, status)
		if a.OnRetry != nil {
			a.OnRetry(attempt+1, status, wait, err)
		}
		if err := a.Retry.Wait(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

func (a *Azure) once(ctx context.Context, payload []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Config.URL(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.Config.APIKey)
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if m := gjson.GetBytes(raw, "error.message"); m.Exists() {
			msg = m.String()
		}
		return nil, &StatusError{Status: resp.StatusCode, Message: msg, RetryAfter: resp.Header.Get("Retry-After")}
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	return &out, nil
}
