package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/store"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := models.Health{OK: true, Version: a.Version}
	if a.Active != nil {
		h.ActiveTask = a.Active()
	}
	counts, err := a.Store.Counts(r.Context())
	if err != nil {
		slog.Error("health: counting tasks", "err", err)
		h.OK = false
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(h)
		return
	}
	h.Tasks = counts
	writeJSON(w, h)
}

func (a *App) handleTextMetrics(w http.ResponseWriter, r *http.Request) {
	c, err := a.Store.Counts(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "# TYPE counsel_tasks gauge\n")
	for _, row := range []struct {
		status string
		n      int
	}{
		{models.StatusPending, c.Pending},
		{models.StatusRunning, c.Running},
		{models.StatusCompleted, c.Completed},
		{models.StatusFailed, c.Failed},
		{models.StatusCancelled, c.Cancelled},
	} {
		_, _ = fmt.Fprintf(w, "counsel_tasks{status=%q} %d\n", row.status, row.n)
	}
}

func (a *App) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !models.ValidStatus(status) {
		writeJSONError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(status))
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	tasks, err := a.Store.List(r.Context(), status, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, tasks)
}

func (a *App) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var body models.SubmitTask
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := a.Store.Enqueue(r.Context(), body)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	slog.Info("task submitted", "task_id", t.ID, "priority", t.Priority)
	a.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": t.ID, "status": t.Status})
	w.Header().Set("Location", "/tasks/"+t.ID)
	writeJSONStatus(w, http.StatusCreated, t)
}

func (a *App) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, t)
}

func (a *App) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Store.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": t.ID, "status": t.Status})
	writeJSON(w, t)
}

func (a *App) handleRequeueTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.Store.Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": t.ID, "status": t.Status})
	writeJSON(w, t)
}

// handleTaskEvents replays recorded events, optionally only those after the
// RFC 3339 "since" query parameter.
func (a *App) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	if a.Events != nil {
		if evs, ok := a.Events.Events(id, since); ok {
			writeJSON(w, evs)
			return
		}
	}
	if _, err := a.Store.Get(r.Context(), id); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, []stream.Event{})
}

func (a *App) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrGoalRequired):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("store", "err", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]any{"error": message})
}
