// Package stream turns agent lifecycle signals into typed events, buffers
// them, and delivers batches to observers in the background. Delivery is
// best effort: failures are logged and counted, never returned to the
// agent.
package stream

import (
	"time"

	"github.com/google/uuid"
)

// Type tags an event.
type Type string

const (
	PlanUpdate       Type = "plan_update"
	PlanStepStart    Type = "plan_step_start"
	PlanStepComplete Type = "plan_step_complete"

	ThoughtStart  Type = "thought_start"
	ThoughtEnd    Type = "thought_end"
	ThoughtUpdate Type = "thought_update"

	ToolStart Type = "tool_start"
	ToolEnd   Type = "tool_end"
	ToolError Type = "tool_error"

	IRACIssue      Type = "irac_issue"
	IRACRule       Type = "irac_rule"
	IRACAnalysis   Type = "irac_analysis"
	IRACConclusion Type = "irac_conclusion"
	IRACCritique   Type = "irac_critique"

	ProgressUpdate Type = "progress"
	StatusUpdate   Type = "status_update"

	Log     Type = "log"
	Warning Type = "warning"
	Error   Type = "error"

	TaskStart    Type = "task_start"
	TaskComplete Type = "task_complete"
	TaskFailed   Type = "task_failed"

	ArtifactStart    Type = "artifact_start"
	ArtifactUpdate   Type = "artifact_update"
	ArtifactComplete Type = "artifact_complete"
)

// Terminal reports whether t is flushed as soon as it is emitted.
func (t Type) Terminal() bool {
	switch t {
	case TaskComplete, TaskFailed, Error, ArtifactComplete:
		return true
	}
	return false
}

var icons = map[Type]string{
	PlanUpdate:       "list",
	PlanStepStart:    "play",
	PlanStepComplete: "check",
	ThoughtStart:     "brain",
	ThoughtEnd:       "brain",
	ToolStart:        "tool",
	ToolEnd:          "check-circle",
	ToolError:        "alert-triangle",
	IRACIssue:        "help-circle",
	IRACRule:         "book",
	IRACAnalysis:     "search",
	IRACConclusion:   "check-square",
	IRACCritique:     "eye",
	ProgressUpdate:   "activity",
	StatusUpdate:     "info",
	Log:              "file-text",
	Warning:          "alert-triangle",
	Error:            "x-circle",
	TaskStart:        "rocket",
	TaskComplete:     "check-circle",
	TaskFailed:       "x-circle",
	ArtifactStart:    "file-plus",
	ArtifactUpdate:   "edit",
	ArtifactComplete: "file-check",
}

var colors = map[Type]string{
	ThoughtStart:     "gray",
	ThoughtEnd:       "gray",
	ToolStart:        "blue",
	ToolEnd:          "blue",
	ToolError:        "red",
	Error:            "red",
	Warning:          "orange",
	TaskComplete:     "green",
	TaskFailed:       "red",
	IRACIssue:        "purple",
	IRACRule:         "indigo",
	IRACAnalysis:     "blue",
	IRACConclusion:   "green",
	IRACCritique:     "orange",
	ArtifactComplete: "green",
}

// Icon is the UI icon hint for t.
func (t Type) Icon() string {
	if s, ok := icons[t]; ok {
		return s
	}
	return "circle"
}

// Color is the UI color hint for t.
func (t Type) Color() string {
	if s, ok := colors[t]; ok {
		return s
	}
	return "default"
}

// Event is one emitted notification.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	TaskID    string         `json:"task_id"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Icon      string         `json:"icon"`
	Color     string         `json:"color"`
}

func newEvent(taskID string, t Type, msg string, data map[string]any, at time.Time) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		TaskID:    taskID,
		Timestamp: at,
		Message:   msg,
		Data:      data,
		Icon:      t.Icon(),
		Color:     t.Color(),
	}
}

// Progress is the derived snapshot of how far a task has come.
type Progress struct {
	TaskID          string    `json:"task_id"`
	Status          string    `json:"status"`
	CurrentStep     string    `json:"current_step"`
	ProgressPercent int       `json:"progress_percent"`
	TotalSteps      int       `json:"total_steps"`
	CompletedSteps  int       `json:"completed_steps"`
	CurrentPhase    string    `json:"current_phase"`
	IRACPhase       string    `json:"irac_phase"`
	StartedAt       time.Time `json:"started_at"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"`
	CurrentArtifact string    `json:"current_artifact"`
	ArtifactPreview string    `json:"artifact_preview"`
}

// Batch is what a sink receives on each flush.
type Batch struct {
	Events   []Event  `json:"events"`
	Progress Progress `json:"progress"`
}

var iracEvents = map[string]Type{
	"issue":      IRACIssue,
	"rule":       IRACRule,
	"analysis":   IRACAnalysis,
	"conclusion": IRACConclusion,
	"critique":   IRACCritique,
}

var iracPercent = map[string]int{
	"issue":      20,
	"rule":       40,
	"analysis":   60,
	"conclusion": 80,
	"critique":   90,
}
