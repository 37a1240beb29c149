// Package models provides the JSON wire types of the counsel HTTP API.
// They are shared by the task store, the HTTP handlers and pkg/client.
package models

import (
	"encoding/json"
	"time"
)

// Task is one queued unit of agent work.
type Task struct {
	ID          string          `json:"id"`
	Goal        string          `json:"goal"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status"`
	UserID      string          `json:"user_id,omitempty"`
	FirmID      string          `json:"firm_id,omitempty"`
	MatterID    string          `json:"matter_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Terminal reports whether the task reached a final status.
func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SubmitTask is the POST /tasks request body.
type SubmitTask struct {
	Goal     string `json:"goal"`
	Priority int    `json:"priority,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	FirmID   string `json:"firm_id,omitempty"`
	MatterID string `json:"matter_id,omitempty"`
}

// TaskCounts is the number of tasks per status.
type TaskCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Total sums every status.
func (c TaskCounts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Cancelled
}

// Health is the GET /health response.
type Health struct {
	OK         bool       `json:"ok"`
	Version    string     `json:"version,omitempty"`
	ActiveTask string     `json:"active_task,omitempty"`
	Tasks      TaskCounts `json:"tasks"`
}

// TaskEvent is one recorded agent event as replayed by GET /tasks/{id}/events.
type TaskEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Icon      string         `json:"icon,omitempty"`
	Color     string         `json:"color,omitempty"`
}
