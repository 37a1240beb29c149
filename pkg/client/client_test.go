package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/httpapi"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:3548", "")
	if c.BaseURL != "http://localhost:3548" || c.APIKey != "" {
		t.Errorf("New: %+v", c)
	}
	c2 := New("http://localhost:3548", "secret")
	if c2.APIKey != "secret" {
		t.Errorf("New with key: %+v", c2)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"version":"1.0","active_task":"task_1","tasks":{"pending":2}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.OK || h.ActiveTask != "task_1" || h.Tasks.Pending != 2 {
		t.Fatalf("Health: got %+v", h)
	}
}

func TestHealth_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Health(context.Background())
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if ae.Status != http.StatusServiceUnavailable || ae.Message != "down" {
		t.Errorf("APIError: %+v", ae)
	}
}

func TestClient_setsAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "mykey")
	_, _ = c.Health(context.Background())
	if gotKey != "mykey" {
		t.Errorf("X-API-Key: got %q", gotKey)
	}
}

func TestEvents_sinceQuery(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/task_1/events" {
			t.Errorf("path: %s", r.URL.Path)
		}
		gotSince = r.URL.Query().Get("since")
		w.Write([]byte(`[{"id":"e1","type":"tool_start","task_id":"task_1","message":"read_file"}]`))
	}))
	defer srv.Close()

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evs, err := New(srv.URL, "").Events(context.Background(), "task_1", since)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != "tool_start" {
		t.Fatalf("Events: got %+v", evs)
	}
	if gotSince != "2026-03-01T12:00:00Z" {
		t.Errorf("since: got %q", gotSince)
	}
}

// TestClient_againstServer drives the real HTTP surface backed by SQLite.
func TestClient_againstServer(t *testing.T) {
	app, err := httpapi.NewApp(httpapi.ServerOptions{Home: t.TempDir(), Version: "test"})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer func() { _ = app.Store.Close() }()
	srv := httptest.NewServer(app.Server.Handler)
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL, "")

	low, err := c.Submit(ctx, models.SubmitTask{Goal: "Check the docket"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	high, err := c.Submit(ctx, models.SubmitTask{Goal: "Draft motion to compel", Priority: 5, MatterID: "m-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if high.Status != models.StatusPending || high.MatterID != "m-1" {
		t.Errorf("Submit: got %+v", high)
	}
	if _, err := c.Submit(ctx, models.SubmitTask{Goal: "  "}); err == nil {
		t.Error("Submit blank goal: expected error")
	}

	tasks, err := c.List(ctx, models.StatusPending, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("List: got %d tasks", len(tasks))
	}

	got, err := c.Get(ctx, low.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Goal != "Check the docket" {
		t.Errorf("Get: goal %q", got.Goal)
	}
	if _, err := c.Get(ctx, "task_missing"); !IsNotFound(err) {
		t.Errorf("Get missing: expected not found, got %v", err)
	}

	cancelled, err := c.Cancel(ctx, low.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Errorf("Cancel: status %q", cancelled.Status)
	}
	if _, err := c.Cancel(ctx, low.ID); err == nil {
		t.Error("Cancel twice: expected conflict")
	}
	requeued, err := c.Requeue(ctx, low.ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if requeued.Status != models.StatusPending {
		t.Errorf("Requeue: status %q", requeued.Status)
	}

	evs, err := c.Events(ctx, high.ID, time.Time{})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("Events before run: got %d", len(evs))
	}

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Version != "test" || h.Tasks.Pending != 2 {
		t.Errorf("Health: got %+v", h)
	}
}

func TestWait_returnsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := models.StatusRunning
		if calls.Add(1) >= 3 {
			status = models.StatusCompleted
		}
		w.Write([]byte(`{"id":"task_1","goal":"g","status":"` + status + `"}`))
	}))
	defer srv.Close()

	task, err := New(srv.URL, "").Wait(context.Background(), "task_1", time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if task.Status != models.StatusCompleted || calls.Load() != 3 {
		t.Errorf("Wait: status %q after %d calls", task.Status, calls.Load())
	}
}
