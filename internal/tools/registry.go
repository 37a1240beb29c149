package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/otel"
	"github.com/tidwall/gjson"
)

// Fallback serves tool names that have no local handler.
type Fallback func(ctx context.Context, name string, args json.RawMessage) (Result, error)

type entry struct {
	spec    Spec
	handler Handler
}

// Registry aggregates tool specs in registration order and dispatches calls.
// It also keeps the ordered ledger of dispatched tool names for one task.
type Registry struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]entry
	fallback Fallback
	ledger   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. Registering a name twice is an error.
func (r *Registry) Register(spec Spec, h Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if h == nil {
		return fmt.Errorf("register tool %s: nil handler", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.entries[spec.Name] = entry{spec: spec, handler: h}
	r.order = append(r.order, spec.Name)
	return nil
}

// SetFallback installs the handler for unregistered names.
func (r *Registry) SetFallback(f Fallback) {
	r.mu.Lock()
	r.fallback = f
	r.mu.Unlock()
}

// List returns every registered spec in registration order.
func (r *Registry) List() []Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

// Has reports whether name has a local handler.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Actions returns a copy of the dispatch ledger.
func (r *Registry) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ledger...)
}

// Dispatch runs the tool named name. It never returns a Go error: every
// failure, including a handler panic, comes back as a failure Result.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (res Result) {
	start := time.Now()
	r.mu.Lock()
	r.ledger = append(r.ledger, name)
	e, ok := r.entries[name]
	fallback := r.fallback
	r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool handler panicked", "tool", name, "panic", p)
			res = Failure(fmt.Errorf("tool %s panicked: %v", name, p))
		}
		outcome := "ok"
		if !res.Succeeded() {
			outcome = "error"
		}
		otel.RecordToolDispatch(ctx, name, outcome, time.Since(start))
	}()

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(args) || !gjson.ParseBytes(args).IsObject() {
		return Failure(Invalid("arguments for %s are not a JSON object", name))
	}

	var (
		out Result
		err error
	)
	switch {
	case ok:
		if err := checkRequired(e.spec, args); err != nil {
			return Failure(err)
		}
		out, err = e.handler(ctx, args)
	case fallback != nil:
		out, err = fallback(ctx, name, args)
	default:
		return Failure(fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}
	if err != nil {
		return Failure(err)
	}
	if out == nil {
		out = OK(nil)
	}
	return out
}

func checkRequired(spec Spec, args json.RawMessage) error {
	for _, field := range spec.Required {
		v := gjson.GetBytes(args, gjson.Escape(field))
		if !v.Exists() || v.Type == gjson.Null {
			return Invalid("%s: missing required field %q", spec.Name, field)
		}
	}
	return nil
}
