// Package agent runs one legal task to completion: it builds the prompt and
// tool catalog, drives the model through tool calls, tracks the IRAC record
// and enforces the iteration and time budgets.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/bridge"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/compact"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/irac"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/knowledge"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/learning"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/llm"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/sandbox"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// Termination reasons recorded on failed runs.
const (
	ReasonMaxIterations = "max_iterations reached"
	ReasonMaxRuntime    = "max runtime reached"
)

// Defaults.
const (
	DefaultTemperature        = 0.7
	DefaultMaxTokens          = 4000
	DefaultFinalizeIterations = 2
)

// Config tunes a run.
type Config struct {
	Temperature  float64
	MaxTokens    int
	Budgets      Budgets
	MaxCritiques int
	Compactor    compact.Compactor
	// FinalizeIterations is how many model calls are allowed after the
	// critical time warning.
	FinalizeIterations int
}

func (c Config) withDefaults() Config {
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Budgets == nil {
		c.Budgets = DefaultBudgets()
	}
	if c.MaxCritiques <= 0 {
		c.MaxCritiques = irac.DefaultMaxCritiques
	}
	if c.FinalizeIterations <= 0 {
		c.FinalizeIterations = DefaultFinalizeIterations
	}
	return c
}

// Agent holds the collaborators shared by every run. Bridge and Learning
// are optional.
type Agent struct {
	Model     llm.Model
	Sandbox   *sandbox.Accessor
	Bridge    *bridge.Client
	Knowledge *knowledge.Base
	Learning  *learning.Store
	Config    Config
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Result is the outcome of one run. Failed runs keep their partial IRAC
// record and action ledger.
type Result struct {
	Success        bool                       `json:"success"`
	Summary        string                     `json:"summary,omitempty"`
	OutputFiles    []string                   `json:"output_files"`
	IRACAnalysis   map[string]json.RawMessage `json:"irac_analysis"`
	Actions        []string                   `json:"actions"`
	Iterations     int                        `json:"iterations"`
	ElapsedSeconds float64                    `json:"elapsed_seconds"`
	Complexity     Complexity                 `json:"complexity"`
	Error          string                     `json:"error,omitempty"`
}

func (a *Agent) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Run executes goal. It never panics and never returns a Go error: every
// failure is reported in the Result. em may be nil.
func (a *Agent) Run(ctx context.Context, goal string, em *stream.Emitter) (res Result) {
	if em == nil {
		em = stream.NewEmitter("", nil)
	}
	r, err := a.newRun(goal, em)
	if err != nil {
		slog.Error("agent setup failed", "err", err)
		em.TaskFailed(err.Error())
		return Result{Error: err.Error(), Complexity: Classify(goal), IRACAnalysis: map[string]json.RawMessage{}}
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("agent run panicked", "panic", p, "stack", string(debug.Stack()))
			res = r.fail(ctx, fmt.Sprintf("internal error: %v", p))
		}
		otel.RecordTaskRun(ctx, string(r.complexity), statusOf(res), time.Duration(res.ElapsedSeconds*float64(time.Second)))
	}()
	return r.loop(ctx)
}

func statusOf(res Result) string {
	if res.Success {
		return "completed"
	}
	return "failed"
}

type completion struct {
	summary string
	files   []string
}

// run is the state of one task execution.
type run struct {
	agent      *Agent
	cfg        Config
	goal       string
	complexity Complexity
	budget     Budget
	em         *stream.Emitter
	tracker    *irac.Tracker
	reg        *tools.Registry
	specs      []llm.Tool
	messages   []llm.Message
	start      time.Time
	iteration  int
	warned     map[string]bool
	finalLeft  int
	finalizing bool
	outputs    []string
	done       *completion
}

func (a *Agent) newRun(goal string, em *stream.Emitter) (*run, error) {
	if a.Model == nil {
		return nil, errors.New("agent: no model configured")
	}
	if a.Sandbox == nil {
		return nil, errors.New("agent: no sandbox configured")
	}
	cfg := a.Config.withDefaults()
	c := Classify(goal)
	r := &run{
		agent:      a,
		cfg:        cfg,
		goal:       goal,
		complexity: c,
		budget:     cfg.Budgets.For(c),
		em:         em,
		tracker:    irac.NewTracker(cfg.MaxCritiques),
		reg:        tools.NewRegistry(),
		start:      a.now(),
		warned:     map[string]bool{},
	}
	if err := r.registerTools(); err != nil {
		return nil, err
	}
	r.specs = llm.ToolsFrom(r.reg.List())
	r.messages = []llm.Message{
		llm.System(a.systemPrompt(goal)),
		llm.User(TaskMessage(goal, c, r.budget.MaxRuntime)),
	}
	return r, nil
}

func (a *Agent) systemPrompt(goal string) string {
	var kb, style, learned string
	if a.Knowledge != nil {
		kb = a.Knowledge.PromptSection(goal)
	}
	if a.Learning != nil {
		var err error
		if style, err = a.Learning.PromptSection(goal); err != nil {
			slog.Warn("could not mark preferences used", "err", err)
		}
		learned = a.Learning.Context(goal)
	}
	return SystemPrompt(kb, style, learned)
}

func (r *run) registerTools() error {
	a := r.agent
	if err := sandbox.Register(r.reg, a.Sandbox); err != nil {
		return err
	}
	if a.Bridge != nil {
		if err := bridge.Register(r.reg, a.Bridge); err != nil {
			return err
		}
	} else {
		r.reg.SetFallback(bridge.Unconfigured)
	}
	if a.Knowledge != nil {
		if err := knowledge.Register(r.reg, a.Knowledge); err != nil {
			return err
		}
	}
	if a.Learning != nil {
		if err := learning.Register(r.reg, a.Learning); err != nil {
			return err
		}
	}
	if err := irac.Register(r.reg, r.tracker, r.onPhase); err != nil {
		return err
	}
	return r.registerCompletionTools()
}

func (r *run) elapsed() time.Duration { return r.agent.now().Sub(r.start) }

func (r *run) loop(ctx context.Context) Result {
	slog.Info("agent starting", "complexity", r.complexity, "max_iterations", r.budget.MaxIterations, "budget", r.budget.MaxRuntime, "tools", len(r.specs))
	r.em.TaskStarted(r.goal)
	r.em.PlanUpdated(Steps, 0)

	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, err.Error())
		}
		if r.iteration >= r.budget.MaxIterations {
			return r.fail(ctx, ReasonMaxIterations)
		}
		if r.finalizing {
			if r.finalLeft <= 0 {
				return r.fail(ctx, ReasonMaxRuntime)
			}
			r.finalLeft--
		} else {
			elapsed := r.elapsed()
			if r.checkTime(r.budget.MaxRuntime - elapsed) {
				r.finalizing = true
				r.finalLeft = r.cfg.FinalizeIterations - 1
				r.messages = append(r.messages, llm.User(FinalizeNow))
			} else if elapsed >= r.budget.MaxRuntime {
				return r.fail(ctx, ReasonMaxRuntime)
			}
		}

		r.iteration++
		otel.RecordIteration(ctx, string(r.complexity))
		r.em.Thinking(fmt.Sprintf("Iteration %d", r.iteration))
		resp, err := r.agent.Model.Complete(ctx, llm.Request{
			Messages:    r.messages,
			Tools:       r.specs,
			Temperature: r.cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(ctx, ctx.Err().Error())
			}
			return r.fail(ctx, fmt.Sprintf("model call failed: %v", err))
		}
		msg, ok := resp.Message()
		if !ok {
			return r.fail(ctx, "model returned no choices")
		}
		msg.Role = llm.RoleAssistant
		r.messages = append(r.messages, msg)
		r.em.ThinkingDone("")

		if len(msg.ToolCalls) > 0 {
			for _, call := range msg.ToolCalls {
				res := r.dispatch(ctx, call)
				r.messages = append(r.messages, llm.ToolResult(call.ID, res.String()))
				if call.Function.Name == "task_complete" && r.done != nil {
					return r.complete(ctx)
				}
			}
		} else {
			r.messages = append(r.messages, llm.User(Nudge))
		}

		if r.cfg.Compactor.Needed(r.messages) {
			r.compact(ctx)
		}
	}
}

func (r *run) dispatch(ctx context.Context, call llm.ToolCall) tools.Result {
	name := call.Function.Name
	args := json.RawMessage(call.Function.Arguments)
	r.em.ToolStarted(name, argSummary(args))
	start := time.Now()
	res := r.reg.Dispatch(ctx, name, args)
	ok := res.Succeeded()
	if ok {
		slog.Info("tool dispatched", "tool", name, "duration", time.Since(start))
		r.em.ToolFinished(name, true, "")
	} else {
		slog.Warn("tool failed", "tool", name, "kind", res["error_kind"], "err", res.Error())
		r.em.ToolFinished(name, false, name+": "+res.Error())
	}
	return res
}

func (r *run) compact(ctx context.Context) {
	before := len(r.messages)
	out, ok := r.cfg.Compactor.Compact(r.messages, compact.State{
		Phases:    r.tracker.Digest(),
		Actions:   r.reg.Actions(),
		Iteration: r.iteration,
		Elapsed:   r.elapsed(),
	})
	if !ok {
		return
	}
	r.messages = out
	otel.RecordCompaction(ctx)
	slog.Info("conversation compacted", "before", before, "after", len(out), "phases", len(r.tracker.Completed()))
	r.em.Log(slog.LevelInfo, fmt.Sprintf("Compacted conversation from %d to %d messages", before, len(out)))
}

var timeWarnings = []struct {
	name      string
	remaining time.Duration
	text      string
}{
	{"critical", time.Minute, "CRITICAL: less than 1 minute remaining. Starting finalization."},
	{"warning", 5 * time.Minute, "WARNING: less than 5 minutes remaining. Wrap up: finish the analysis and finalize the work product."},
	{"notice", 10 * time.Minute, "NOTICE: less than 10 minutes remaining. Prioritize the remaining steps."},
}

// checkTime fires at most one not-yet-issued warning whose threshold has
// been crossed and reports whether it was the critical one.
func (r *run) checkTime(remaining time.Duration) bool {
	for _, w := range timeWarnings {
		if remaining >= w.remaining || r.warned[w.name] {
			continue
		}
		r.warned[w.name] = true
		slog.Warn("time budget", "level", w.name, "remaining", remaining.Round(time.Second))
		r.em.Warn(w.text, map[string]any{"level": w.name, "remaining_seconds": int(remaining.Seconds())})
		if w.name == "critical" {
			return true
		}
		r.messages = append(r.messages, llm.User(w.text))
		return false
	}
	return false
}

func (r *run) onPhase(ctx context.Context, rec irac.Record, adv irac.Advice) {
	r.em.IRACPhase(string(rec.Phase), phaseHeadline(rec))
	slog.Info("irac phase recorded", "phase", rec.Phase, "next", adv.Next)
}

func (r *run) result() Result {
	files := r.outputs
	if files == nil {
		files = []string{}
	}
	return Result{
		OutputFiles:    files,
		IRACAnalysis:   r.tracker.Snapshot(),
		Actions:        r.reg.Actions(),
		Iterations:     r.iteration,
		ElapsedSeconds: r.elapsed().Seconds(),
		Complexity:     r.complexity,
	}
}

func (r *run) complete(ctx context.Context) Result {
	res := r.result()
	res.Success = true
	res.Summary = r.done.summary
	res.OutputFiles = mergeFiles(res.OutputFiles, r.done.files)
	slog.Info("agent completed", "iterations", res.Iterations, "elapsed", r.elapsed().Round(time.Second), "files", len(res.OutputFiles))
	r.em.TaskCompleted(res.Summary, res.OutputFiles)
	return res
}

func (r *run) fail(ctx context.Context, reason string) Result {
	res := r.result()
	res.Error = reason
	slog.Error("agent failed", "reason", reason, "iterations", res.Iterations, "phases", len(r.tracker.Completed()))
	if r.agent.Learning != nil && ctx.Err() == nil {
		err := r.agent.Learning.RecordObservation(learning.Observation{
			Task:     r.goal,
			Actions:  res.Actions,
			Outcome:  "failure",
			Duration: res.ElapsedSeconds,
			Lessons:  []string{reason},
		})
		if err != nil {
			slog.Warn("could not record observation", "err", err)
		}
	}
	r.em.TaskFailed(reason)
	return res
}

func mergeFiles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, f := range append(append([]string(nil), a...), b...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
