package capabilities

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	c := SlackWebhook{WebhookURL: "https://example.com"}
	reg.Register("slack", c)
	got, ok := reg.Get("slack").(SlackWebhook)
	if !ok || got.WebhookURL != c.WebhookURL {
		t.Fatalf("Get(slack): got %+v", reg.Get("slack"))
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("Get(nonexistent) should be nil")
	}
	if err := reg.Notify(context.Background(), "nonexistent", "x"); err == nil {
		t.Fatal("Notify(nonexistent) should fail")
	}
}

func TestSlackWebhook_Notify_mockHTTP(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := SlackWebhook{WebhookURL: srv.URL, Username: "counsel"}
	if err := c.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if payload["text"] != "hello" || payload["username"] != "counsel" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestSlackWebhook_Notify_errors(t *testing.T) {
	if err := (SlackWebhook{}).Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error when webhook URL empty")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	if err := (SlackWebhook{WebhookURL: srv.URL}).Notify(context.Background(), "msg"); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

type failing struct{}

func (failing) Name() string { return "failing" }
func (failing) Notify(ctx context.Context, msg string) error { return errors.New("down") }

func TestNotifyAll(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("slack", SlackWebhook{WebhookURL: srv.URL})
	reg.Register("failing", failing{})
	err := reg.NotifyAll(context.Background(), "done")
	if err == nil || !strings.Contains(err.Error(), "failing: down") {
		t.Fatalf("NotifyAll error = %v", err)
	}
	if hits != 1 {
		t.Fatalf("slack hits = %d, want 1", hits)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "failing" {
		t.Fatalf("Names = %v", got)
	}
}

func TestTaskMessage(t *testing.T) {
	done := models.Task{
		ID:     "task_1",
		Goal:   "Summarize notes",
		Status: models.StatusCompleted,
		Result: []byte(`{"summary":"Lease dispute summary.","output_files":["output/a.md","output/b.md"]}`),
	}
	want := "Task completed: Summarize notes (task_1)\nLease dispute summary.\nFiles: output/a.md, output/b.md"
	if got := TaskMessage(done); got != want {
		t.Fatalf("TaskMessage =\n%s\nwant\n%s", got, want)
	}

	failed := models.Task{ID: "task_2", Goal: "Draft motion", Status: models.StatusFailed, Error: "max runtime reached"}
	if got := TaskMessage(failed); got != "Task failed: Draft motion (task_2)\nError: max runtime reached" {
		t.Fatalf("TaskMessage failed = %q", got)
	}
}
