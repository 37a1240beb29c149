package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultSinkTimeout bounds one HTTP delivery.
const DefaultSinkTimeout = 5 * time.Second

// Sink receives flushed batches.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, taskID string, b Batch) error
}

// HTTPSink posts batches to {BaseURL}/stream/{taskID}/events.
type HTTPSink struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: DefaultSinkTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Deliver posts b. Any non-2xx status is an error.
func (s *HTTPSink) Deliver(ctx context.Context, taskID string, b Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return err
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/stream/" + url.PathEscape(taskID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("stream sink: %s", resp.Status)
	}
	return nil
}

// Publisher broadcasts a JSON value to live subscribers.
type Publisher interface {
	PublishJSON(v any)
}

// PublishSink forwards each event to a local Publisher such as an SSE hub.
type PublishSink struct {
	P Publisher
}

func (s PublishSink) Name() string { return "sse" }

func (s PublishSink) Deliver(ctx context.Context, taskID string, b Batch) error {
	for _, ev := range b.Events {
		s.P.PublishJSON(ev)
	}
	s.P.PublishJSON(map[string]any{"type": "progress_snapshot", "task_id": taskID, "progress": b.Progress})
	return nil
}

// FanOut delivers to every sink and joins their errors. One failing sink
// does not stop delivery to the others.
type FanOut []Sink

func (f FanOut) Name() string { return "fanout" }

func (f FanOut) Deliver(ctx context.Context, taskID string, b Batch) error {
	var errs []error
	for _, s := range f {
		err := s.Deliver(ctx, taskID, b)
		otel.RecordStreamDelivery(ctx, s.Name(), outcome(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
