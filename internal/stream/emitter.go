package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
)

// Defaults.
const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultHistory       = 500
	previewLimit         = 500
)

// Emitter buffers events for one task and flushes them to a Sink. Emit never
// blocks on delivery, and batches reach the sink in emission order. A nil
// Sink keeps history and progress only.
type Emitter struct {
	taskID   string
	sink     Sink
	interval time.Duration
	maxHist  int
	now      func() time.Time

	mu       sync.Mutex
	buf      []Event
	history  []Event
	progress Progress

	kick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	active bool

	// sending serializes drain and delivery; inflight tracks terminal
	// deliveries started without a running flusher.
	sending  sync.Mutex
	inflight sync.WaitGroup
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithFlushInterval sets the background flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithHistory sets how many events are kept for replay.
func WithHistory(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.maxHist = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func NewEmitter(taskID string, sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		taskID:   taskID,
		sink:     sink,
		interval: DefaultFlushInterval,
		maxHist:  DefaultHistory,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	e.progress = Progress{TaskID: taskID, Status: "initializing", StartedAt: e.now().UTC()}
	return e
}

// TaskID returns the task the emitter reports on.
func (e *Emitter) TaskID() string { return e.taskID }

// Start launches the background flusher. Stop must be called to release it.
func (e *Emitter) Start() {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()
	go e.loop()
}

// Stop ends the flusher, waits for terminal deliveries already started and
// delivers anything still buffered.
func (e *Emitter) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		e.inflight.Wait()
		e.Flush(context.Background())
		return
	}
	e.active = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()
	<-done
	e.inflight.Wait()
	e.Flush(context.Background())
}

func (e *Emitter) loop() {
	defer close(e.done)
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
		case <-e.kick:
		}
		e.Flush(context.Background())
	}
}

// Flush drains the buffer into the sink. Delivery errors are logged.
func (e *Emitter) Flush(ctx context.Context) {
	e.sending.Lock()
	defer e.sending.Unlock()
	e.mu.Lock()
	if len(e.buf) == 0 {
		e.mu.Unlock()
		return
	}
	batch := Batch{Events: e.buf, Progress: e.snapshotLocked()}
	e.buf = nil
	e.mu.Unlock()

	if e.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultSinkTimeout)
	defer cancel()
	err := e.sink.Deliver(ctx, e.taskID, batch)
	otel.RecordStreamDelivery(ctx, e.sink.Name(), outcome(err))
	if err != nil {
		slog.Warn("stream delivery failed", "task_id", e.taskID, "sink", e.sink.Name(), "events", len(batch.Events), "err", err)
	}
}

// Emit records an event. Terminal types wake the flusher at once; without a
// running flusher they are delivered on a separate goroutine that Stop waits
// for.
func (e *Emitter) Emit(t Type, msg string, data map[string]any) Event {
	ev := newEvent(e.taskID, t, msg, data, e.now().UTC())
	e.mu.Lock()
	e.buf = append(e.buf, ev)
	e.history = append(e.history, ev)
	if over := len(e.history) - e.maxHist; over > 0 {
		e.history = append([]Event(nil), e.history[over:]...)
	}
	active := e.active
	e.mu.Unlock()

	if t.Terminal() {
		if active {
			select {
			case e.kick <- struct{}{}:
			default:
			}
		} else if e.sink != nil {
			e.inflight.Add(1)
			go func() {
				defer e.inflight.Done()
				e.Flush(context.Background())
			}()
		} else {
			e.Flush(context.Background())
		}
	}
	return ev
}

// History returns retained events newer than since. A zero since returns
// the whole ring.
func (e *Emitter) History(since time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, 0, len(e.history))
	for _, ev := range e.history {
		if since.IsZero() || ev.Timestamp.After(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Progress returns the current snapshot.
func (e *Emitter) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Emitter) snapshotLocked() Progress {
	p := e.progress
	p.ElapsedSeconds = e.now().Sub(p.StartedAt).Seconds()
	return p
}

func (e *Emitter) update(fn func(p *Progress)) {
	e.mu.Lock()
	fn(&e.progress)
	e.mu.Unlock()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// TaskStarted marks the task running.
func (e *Emitter) TaskStarted(goal string) {
	e.update(func(p *Progress) {
		p.Status = "running"
		p.CurrentPhase = "executing"
	})
	e.Emit(TaskStart, "Starting: "+clip(goal, 100), map[string]any{"goal": goal})
}

// UpdateProgress sets the percentage, clamped to [0,100].
func (e *Emitter) UpdateProgress(percent int, status, step string) {
	percent = min(100, max(0, percent))
	e.update(func(p *Progress) {
		p.ProgressPercent = percent
		if status != "" {
			p.Status = status
		}
		if step != "" {
			p.CurrentStep = step
		}
	})
	label := step
	if label == "" {
		label = status
	}
	e.Emit(ProgressUpdate, fmt.Sprintf("%d%% - %s", percent, label), map[string]any{"progress": e.Progress()})
}

func (e *Emitter) Thinking(thought string) {
	if thought == "" {
		thought = "Thinking..."
	}
	e.Emit(ThoughtStart, thought, nil)
}

func (e *Emitter) ThinkingDone(result string) {
	if result == "" {
		result = "Done thinking"
	}
	e.Emit(ThoughtEnd, result, nil)
}

var toolMessages = map[string]string{
	"read_file":             "Reading %s...",
	"write_file":            "Writing %s...",
	"list_directory":        "Listing %s...",
	"search_matters":        "Searching matters...",
	"get_matter":            "Getting matter %s...",
	"create_document":       "Creating %s...",
	"search_case_law":       "Researching case law...",
	"search_semantic":       "Searching the document library...",
	"find_precedent":        "Looking for precedent...",
	"list_my_matters":       "Listing matters...",
	"task_complete":         "Wrapping up...",
	"self_critique":         "Critiquing the work product...",
	"finalize_work_product": "Saving the work product...",
}

// ToolStarted reports a dispatch about to run. detail is a short argument
// summary such as a path.
func (e *Emitter) ToolStarted(name, detail string) {
	msg := "Executing " + name + "..."
	if f, ok := toolMessages[name]; ok {
		if strings.Contains(f, "%s") {
			arg := detail
			if arg == "" {
				arg = "file"
				if name == "list_directory" {
					arg = "directory"
				}
			}
			msg = fmt.Sprintf(f, arg)
		} else {
			msg = f
		}
	}
	e.update(func(p *Progress) { p.CurrentStep = name })
	e.Emit(ToolStart, msg, map[string]any{"tool": name, "args": detail})
}

// ToolFinished reports a dispatch outcome.
func (e *Emitter) ToolFinished(name string, ok bool, msg string) {
	t := ToolEnd
	if !ok {
		t = ToolError
	}
	if msg == "" {
		msg = name + " complete"
	}
	e.Emit(t, msg, map[string]any{"tool": name, "success": ok})
}

// PlanUpdated announces the step plan.
func (e *Emitter) PlanUpdated(steps []string, current int) {
	e.update(func(p *Progress) {
		p.TotalSteps = len(steps)
		p.CompletedSteps = current
	})
	e.Emit(PlanUpdate, fmt.Sprintf("Plan: %d steps", len(steps)), map[string]any{"steps": steps, "current": current})
}

func (e *Emitter) StepStarted(n int, desc string) {
	e.update(func(p *Progress) { p.CurrentStep = desc })
	e.Emit(PlanStepStart, fmt.Sprintf("Step %d: %s", n, desc), map[string]any{"step": n, "description": desc})
}

func (e *Emitter) StepCompleted(n int, result string) {
	e.update(func(p *Progress) {
		p.CompletedSteps = n
		if p.TotalSteps > 0 {
			p.ProgressPercent = n * 100 / p.TotalSteps
		}
	})
	e.Emit(PlanStepComplete, fmt.Sprintf("Step %d complete: %s", n, result), map[string]any{"step": n, "result": result})
}

// IRACPhase reports a recorded reasoning phase and advances progress.
func (e *Emitter) IRACPhase(phase, content string) {
	t, ok := iracEvents[phase]
	if !ok {
		t = StatusUpdate
	}
	e.update(func(p *Progress) {
		p.IRACPhase = phase
		if phase == "critique" {
			p.CurrentPhase = "critiquing"
		}
		if pct, ok := iracPercent[phase]; ok && pct > p.ProgressPercent {
			p.ProgressPercent = pct
		}
	})
	msg := "IRAC " + strings.ToUpper(phase)
	if content != "" {
		msg += ": " + clip(content, 100) + "..."
	}
	e.Emit(t, msg, map[string]any{"phase": phase, "content": content})
}

func (e *Emitter) ArtifactStarted(name, kind string) {
	if kind == "" {
		kind = "document"
	}
	e.update(func(p *Progress) { p.CurrentArtifact = name })
	e.Emit(ArtifactStart, "Creating "+kind+": "+name, map[string]any{"name": name, "type": kind})
}

func (e *Emitter) ArtifactUpdated(name, preview string) {
	preview = clip(preview, previewLimit)
	e.update(func(p *Progress) { p.ArtifactPreview = preview })
	e.Emit(ArtifactUpdate, "Updating "+name+"...", map[string]any{"name": name, "preview": preview})
}

func (e *Emitter) ArtifactCompleted(name, path string) {
	e.Emit(ArtifactComplete, "Completed: "+name, map[string]any{"name": name, "path": path})
}

// Log emits a log, warning or error event by level.
func (e *Emitter) Log(level slog.Level, msg string) {
	switch {
	case level >= slog.LevelError:
		e.Emit(Error, msg, nil)
	case level >= slog.LevelWarn:
		e.Emit(Warning, msg, nil)
	default:
		e.Emit(Log, msg, nil)
	}
}

func (e *Emitter) Warn(msg string, data map[string]any) { e.Emit(Warning, msg, data) }

func (e *Emitter) Fail(msg, details string) {
	e.Emit(Error, msg, map[string]any{"details": details})
}

// TaskCompleted marks the task done at 100%.
func (e *Emitter) TaskCompleted(summary string, files []string) {
	if files == nil {
		files = []string{}
	}
	e.update(func(p *Progress) {
		p.Status = "completed"
		p.ProgressPercent = 100
	})
	e.Emit(TaskComplete, summary, map[string]any{"output_files": files})
}

// TaskFailed marks the task failed.
func (e *Emitter) TaskFailed(reason string) {
	e.update(func(p *Progress) { p.Status = "failed" })
	e.Emit(TaskFailed, reason, nil)
}
