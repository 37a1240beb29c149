// Package store persists the task queue. The default backend is SQLite under
// the counsel home; internal/store/postgres provides a PostgreSQL backend.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a task is not in a state the
	// requested operation accepts.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrGoalRequired is returned by Enqueue for a blank goal.
	ErrGoalRequired = errors.New("goal required")
)

// Update is a partial change to a task. Zero fields are left unchanged.
type Update struct {
	Status string
	Result json.RawMessage
	Error  *string
}

// Validate checks the status value of u.
func (u Update) Validate() error {
	if u.Status != "" && !models.ValidStatus(u.Status) {
		return fmt.Errorf("unknown status %q", u.Status)
	}
	return nil
}

// ValidateSubmit normalises and checks a submission.
func ValidateSubmit(t *models.SubmitTask) error {
	t.Goal = strings.TrimSpace(t.Goal)
	if t.Goal == "" {
		return ErrGoalRequired
	}
	return nil
}

// TransitionError reports that task id is in status from.
func TransitionError(id, op, from string) error {
	return fmt.Errorf("%w: cannot %s task %s in status %s", ErrInvalidTransition, op, id, from)
}

var (
	idMu   sync.Mutex
	lastID time.Time
)

// NewTaskID returns a timestamp id of the form task_YYYYmmdd_HHMMSS_ffffff
// (UTC). Ids issued by one process are strictly increasing.
func NewTaskID(now time.Time) (string, time.Time) {
	idMu.Lock()
	defer idMu.Unlock()
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(lastID) {
		now = lastID.Add(time.Microsecond)
	}
	lastID = now
	return fmt.Sprintf("task_%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000), now
}

// FromMicros converts a stored unix-microsecond column.
func FromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

// OptMicros converts a nullable unix-microsecond column.
func OptMicros(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := FromMicros(*v)
	return &t
}
