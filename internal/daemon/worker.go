package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/agent"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/capabilities"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/store"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
)

// ShutdownReason is recorded on a task returned to the queue because the
// worker stopped while running it.
const ShutdownReason = "Worker shutdown during execution"

// Defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultKeepEmitters = 20
)

// Runner executes one goal. *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, goal string, em *stream.Emitter) agent.Result
}

// Notifier is told about terminal task outcomes.
type Notifier interface {
	NotifyAll(ctx context.Context, message string) error
}

// Worker polls the queue and runs one task at a time.
type Worker struct {
	Store  store.Store
	Runner Runner
	// Sink receives every task's events; nil keeps them local.
	Sink stream.Sink
	// Hub relays events to live subscribers; optional.
	Hub      stream.Publisher
	Notifier Notifier

	Poll          time.Duration
	FlushInterval time.Duration
	History       int
	KeepEmitters  int

	mu       sync.Mutex
	active   string
	emitters map[string]*stream.Emitter
	order    []string
}

// Active returns the id of the running task, or "".
func (w *Worker) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Events replays the recorded events of a recent task.
func (w *Worker) Events(taskID string, since time.Time) ([]stream.Event, bool) {
	w.mu.Lock()
	em, ok := w.emitters[taskID]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}
	return em.History(since), true
}

// Recover returns tasks left running by a previous process to the queue.
func (w *Worker) Recover(ctx context.Context) error {
	n, err := w.Store.RequeueRunning(ctx, "Worker restarted during execution")
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("requeued interrupted tasks", "count", n)
	}
	return nil
}

// Run polls until ctx is done. Errors from a single task never stop it.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.validate(); err != nil {
		return err
	}
	poll := w.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	slog.Info("worker started", "poll", poll)
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		ran, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("worker iteration failed", "err", err)
		}
		if ctx.Err() != nil {
			slog.Info("worker stopped")
			return nil
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunOnce claims and runs the next pending task. It reports whether a task
// was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.Store.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.execute(ctx, *task)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, task models.Task) {
	log := slog.With("task_id", task.ID)
	log.Info("task started", "goal", task.Goal, "priority", task.Priority)
	w.publish(task.ID, models.StatusRunning)

	em := w.newEmitter(task.ID)
	w.setActive(task.ID)
	em.Start()
	res := w.run(ctx, task, em)
	em.Stop()
	w.setActive("")

	// The run context may be gone; the bookkeeping below must still land.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if ctx.Err() != nil {
		reason := ShutdownReason
		if _, err := w.Store.Update(bg, task.ID, store.Update{Status: models.StatusPending, Error: &reason}); err != nil {
			log.Error("could not requeue task", "err", err)
			return
		}
		log.Warn("task requeued", "reason", reason)
		w.publish(task.ID, models.StatusPending)
		return
	}

	upd := store.Update{Status: models.StatusCompleted}
	if !res.Success {
		upd.Status = models.StatusFailed
		msg := res.Error
		upd.Error = &msg
	}
	if b, err := json.Marshal(res); err != nil {
		log.Error("could not encode result", "err", err)
	} else {
		upd.Result = b
	}
	saved, err := w.Store.Update(bg, task.ID, upd)
	if err != nil {
		log.Error("could not save task result", "err", err)
		return
	}
	log.Info("task finished", "status", saved.Status, "iterations", res.Iterations, "elapsed_seconds", res.ElapsedSeconds)
	w.publish(task.ID, saved.Status)

	if w.Notifier != nil {
		if err := w.Notifier.NotifyAll(bg, capabilities.TaskMessage(saved)); err != nil {
			log.Warn("task notification failed", "err", err)
		}
	}
}

// run shields the poll loop from a runner that panics.
func (w *Worker) run(ctx context.Context, task models.Task, em *stream.Emitter) (res agent.Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("runner panicked", "task_id", task.ID, "panic", p)
			res = agent.Result{Error: "internal error: runner panicked"}
		}
	}()
	return w.Runner.Run(ctx, task.Goal, em)
}

func (w *Worker) newEmitter(taskID string) *stream.Emitter {
	var sinks stream.FanOut
	if w.Sink != nil {
		sinks = append(sinks, w.Sink)
	}
	if w.Hub != nil {
		sinks = append(sinks, stream.PublishSink{P: w.Hub})
	}
	var sink stream.Sink
	if len(sinks) > 0 {
		sink = sinks
	}
	em := stream.NewEmitter(taskID, sink, stream.WithFlushInterval(w.FlushInterval), stream.WithHistory(w.History))

	keep := w.KeepEmitters
	if keep <= 0 {
		keep = DefaultKeepEmitters
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.emitters == nil {
		w.emitters = make(map[string]*stream.Emitter)
	}
	if _, ok := w.emitters[taskID]; !ok {
		w.order = append(w.order, taskID)
	}
	w.emitters[taskID] = em
	for len(w.order) > keep {
		delete(w.emitters, w.order[0])
		w.order = w.order[1:]
	}
	return em
}

func (w *Worker) setActive(id string) {
	w.mu.Lock()
	w.active = id
	w.mu.Unlock()
}

func (w *Worker) publish(taskID, status string) {
	if w.Hub == nil {
		return
	}
	w.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": taskID, "status": status})
}

func (w *Worker) validate() error {
	if w.Store == nil {
		return errors.New("worker has no store")
	}
	if w.Runner == nil {
		return errors.New("worker has no runner")
	}
	return nil
}
