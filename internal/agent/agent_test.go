package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/compact"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/knowledge"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/learning"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/llm"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/sandbox"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step func(req llm.Request) (*llm.Response, error)

// scripted replays steps in order, repeating the last one.
type scripted struct {
	mu     sync.Mutex
	steps  []step
	reqs   []llm.Request
	before func(n int)
}

func (s *scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	s.reqs = append(s.reqs, req)
	n := len(s.reqs)
	s.mu.Unlock()
	if s.before != nil {
		s.before(n)
	}
	return s.steps[min(n, len(s.steps))-1](req)
}

func (s *scripted) requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.reqs...)
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func calls(cs ...llm.ToolCall) step {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: cs}}}}, nil
	}
}

func text(s string) step {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, Content: s}}}}, nil
	}
}

func newAgent(t *testing.T, m llm.Model) *Agent {
	t.Helper()
	sb, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	kb, err := knowledge.Load()
	require.NoError(t, err)
	ls, err := learning.Open(learning.DefaultDir(sb.Root()))
	require.NoError(t, err)
	return &Agent{Model: m, Sandbox: sb, Knowledge: kb, Learning: ls}
}

func toolMessages(msgs []llm.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestRun_SummarizeNotes(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(call("c1", "read_file", `{"path":"notes.txt"}`)),
		calls(call("c2", "task_complete", `{"summary":"The notes describe a lease dispute.","success":true}`)),
	}}
	a := newAgent(t, m)
	require.NoError(t, os.WriteFile(filepath.Join(a.Sandbox.Root(), "notes.txt"), []byte("Tenant withheld rent in May."), 0o644))

	em := stream.NewEmitter("task_x", nil)
	res := a.Run(context.Background(), "Summarize the file notes.txt in the sandbox", em)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "The notes describe a lease dispute.", res.Summary)
	assert.Equal(t, []string{"read_file", "task_complete"}, res.Actions)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, Moderate, res.Complexity)
	assert.Equal(t, "completed", em.Progress().Status)

	reqs := m.requests()
	require.Len(t, reqs, 2)
	tm := toolMessages(reqs[1].Messages)
	require.Len(t, tm, 1)
	assert.Equal(t, "c1", tm[0].ToolCallID)
	assert.Contains(t, tm[0].Content, "Tenant withheld rent in May.")

	obs := a.Learning.Observations()
	require.Len(t, obs, 1)
	assert.Equal(t, "success", obs[0].Outcome)
	assert.Equal(t, []string{"read_file", "task_complete"}, obs[0].Actions)
}

func TestRun_PromptShape(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{calls(call("c1", "task_complete", `{"summary":"ok","success":true}`))}}
	a := newAgent(t, m)
	_, err := a.Learning.UpdatePreference("General:Tone", "Be direct.", nil, learning.SourceExplicit)
	require.NoError(t, err)

	res := a.Run(context.Background(), "Draft motion to dismiss the litigation", nil)
	require.True(t, res.Success)
	req := m.requests()[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "## IRAC METHODOLOGY")
	assert.Contains(t, req.Messages[0].Content, "## STYLE PREFERENCES")
	assert.Contains(t, req.Messages[0].Content, "- **General:Tone**: Be direct.")
	assert.Contains(t, req.Messages[0].Content, "## LITIGATION")
	assert.True(t, strings.HasPrefix(req.Messages[1].Content, "TASK: Draft motion to dismiss the litigation\n\nComplexity: complex | Budget: 90 min"))
	assert.Contains(t, req.Messages[1].Content, "identify_legal_issue → state_legal_rule")

	names := map[string]bool{}
	for _, tl := range req.Tools {
		assert.False(t, names[tl.Function.Name], "duplicate tool %s", tl.Function.Name)
		names[tl.Function.Name] = true
	}
	for _, want := range []string{"read_file", "get_practice_area_knowledge", "update_preference", "self_critique", "finalize_work_product", "task_complete"} {
		assert.True(t, names[want], want)
	}
	assert.Equal(t, DefaultTemperature, req.Temperature)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
}

func TestRun_ToolCallsRunInOrder(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(
			call("a", "create_directory", `{"path":"drafts"}`),
			call("b", "write_file", `{"path":"drafts/x.md","content":"one"}`),
			call("c", "read_file", `{"path":"drafts/x.md"}`),
		),
		calls(call("d", "task_complete", `{"summary":"done","success":true}`)),
	}}
	a := newAgent(t, m)
	res := a.Run(context.Background(), "organize drafts", nil)
	require.True(t, res.Success)

	tm := toolMessages(m.requests()[1].Messages)
	require.Len(t, tm, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{tm[0].ToolCallID, tm[1].ToolCallID, tm[2].ToolCallID})
	assert.Contains(t, tm[2].Content, `"content":"one"`)
	assert.Equal(t, []string{"create_directory", "write_file", "read_file", "task_complete"}, res.Actions)
}

func TestRun_MaxIterationsKeepsPartialAnalysis(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(call("i", "identify_legal_issue", `{"issue_statement":"The issue is whether the notice was timely."}`)),
		calls(call("s", "file_exists", `{"path":"x.txt"}`)),
	}}
	a := newAgent(t, m)
	a.Config.Budgets = Budgets{Moderate: {MaxIterations: 5, MaxRuntime: time.Hour}}

	res := a.Run(context.Background(), "Summarize the file notes.txt in the sandbox", nil)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonMaxIterations, res.Error)
	assert.Equal(t, 5, res.Iterations)
	require.Contains(t, res.IRACAnalysis, "issue")
	assert.JSONEq(t, `{"issue_statement":"The issue is whether the notice was timely."}`, string(res.IRACAnalysis["issue"]))
	assert.Len(t, res.Actions, 5)

	obs := a.Learning.Observations()
	require.Len(t, obs, 1)
	assert.Equal(t, "failure", obs[0].Outcome)
}

func TestRun_TextOnlyIsNudged(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		text("I will now think about it."),
		calls(call("c", "task_complete", `{"summary":"ok","success":true}`)),
	}}
	a := newAgent(t, m)
	res := a.Run(context.Background(), "check status", nil)
	require.True(t, res.Success)
	msgs := m.requests()[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, Nudge, last.Content)
	assert.Equal(t, Simple, res.Complexity)
}

func TestRun_FinalizeWritesWorkProduct(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(call("f", "finalize_work_product", `{"title":"Lease Memo","content":"# Memo\nNo notice was given.","document_type":"memo"}`)),
		calls(call("c", "task_complete", `{"summary":"Memo saved","success":true,"output_files":["output/Lease_Memo.md","output/extra.md"]}`)),
	}}
	a := newAgent(t, m)
	em := stream.NewEmitter("t", nil)
	res := a.Run(context.Background(), "prepare a memo", em)
	require.True(t, res.Success)
	assert.Equal(t, []string{"output/Lease_Memo.md", "output/extra.md"}, res.OutputFiles)

	b, err := os.ReadFile(filepath.Join(a.Sandbox.Root(), "output", "Lease_Memo.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Memo\nNo notice was given.", string(b))

	var types []stream.Type
	for _, ev := range em.History(time.Time{}) {
		types = append(types, ev.Type)
	}
	assert.Subset(t, types, []stream.Type{stream.ArtifactStart, stream.ArtifactUpdate, stream.ArtifactComplete, stream.TaskComplete})
}

func TestRun_FailedToolIsFedBack(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(call("v", "read_file", `{"path":"../../etc/passwd"}`)),
		calls(call("c", "task_complete", `{"summary":"gave up","success":false}`)),
	}}
	a := newAgent(t, m)
	res := a.Run(context.Background(), "read the passwd file", nil)
	require.True(t, res.Success)
	tm := toolMessages(m.requests()[1].Messages)
	require.Len(t, tm, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(tm[0].Content), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "sandbox_violation", got["error_kind"])
	assert.Equal(t, "partial", a.Learning.Observations()[0].Outcome)
}

func TestRun_UnknownToolWithoutBackendIsRemoteUnavailable(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(call("x", "create_time_entry", `{"hours":1.5}`)),
		calls(call("c", "task_complete", `{"summary":"could not log time","success":false}`)),
	}}
	a := newAgent(t, m)
	require.Nil(t, a.Bridge)
	res := a.Run(context.Background(), "log 1.5 hours on the Smith matter", nil)
	require.True(t, res.Success)
	tm := toolMessages(m.requests()[1].Messages)
	require.Len(t, tm, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(tm[0].Content), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, "remote_unavailable", got["error_kind"])
	assert.Equal(t, true, got["backend_required"])
}

func TestRun_ModelErrorFailsTask(t *testing.T) {
	t.Parallel()
	boom := &llm.StatusError{Status: 401, Message: "bad key"}
	m := &scripted{steps: []step{func(llm.Request) (*llm.Response, error) { return nil, boom }}}
	res := newAgent(t, m).Run(context.Background(), "check status", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "model call failed: model API error 401: bad key", res.Error)
	assert.Equal(t, 1, res.Iterations)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{func(llm.Request) (*llm.Response, error) { panic("kaboom") }}}
	res := newAgent(t, m).Run(context.Background(), "check status", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "internal error: kaboom", res.Error)
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &scripted{steps: []step{text("never")}}
	res := newAgent(t, m).Run(ctx, "check status", nil)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
	assert.Equal(t, context.Canceled.Error(), res.Error)
	assert.Empty(t, m.requests())
}

func TestRun_TimeWarningsLatchAndForceFinalization(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := &scripted{steps: []step{calls(call("x", "file_exists", `{"path":"a.txt"}`))}}
	// Each model call costs three minutes of a twelve minute budget.
	m.before = func(int) {
		mu.Lock()
		now = now.Add(3 * time.Minute)
		mu.Unlock()
	}
	a := newAgent(t, m)
	a.Now = clock
	a.Config.Budgets = Budgets{Simple: {MaxIterations: 50, MaxRuntime: 12 * time.Minute}}
	em := stream.NewEmitter("t", nil)

	res := a.Run(context.Background(), "quick check", em)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonMaxRuntime, res.Error)

	var levels []string
	for _, ev := range em.History(time.Time{}) {
		if ev.Type == stream.Warning {
			levels = append(levels, ev.Data["level"].(string))
		}
	}
	assert.Equal(t, []string{"notice", "warning", "critical"}, levels)

	// Remaining before each call: 12, 9, 6, 3, 0 minutes. The critical
	// warning at 0 allows two finalization calls.
	assert.Equal(t, 6, res.Iterations)
	reqs := m.requests()
	last := reqs[len(reqs)-2].Messages
	assert.Equal(t, FinalizeNow, last[len(last)-1].Content)
}

func TestRun_CompactsLongConversations(t *testing.T) {
	t.Parallel()
	m := &scripted{steps: []step{
		calls(call("i", "identify_legal_issue", `{"issue_statement":"The issue is whether X."}`)),
		calls(call("e", "file_exists", `{"path":"a.txt"}`)),
		calls(call("e", "file_exists", `{"path":"a.txt"}`)),
		calls(call("e", "file_exists", `{"path":"a.txt"}`)),
		calls(call("e", "file_exists", `{"path":"a.txt"}`)),
		calls(call("e", "file_exists", `{"path":"a.txt"}`)),
		calls(call("c", "task_complete", `{"summary":"ok","success":true}`)),
	}}
	a := newAgent(t, m)
	a.Config.Compactor = compact.Compactor{Ceiling: 8, Keep: 4}
	res := a.Run(context.Background(), "check status", nil)
	require.True(t, res.Success)

	final := m.requests()[6].Messages
	assert.LessOrEqual(t, len(final), 8)
	require.True(t, compact.IsDigest(final[2]), final[2].Content)
	assert.Contains(t, final[2].Content, "ISSUE: The issue is whether X.")
	assert.Contains(t, final[2].Content, "Actions taken: identify_legal_issue, file_exists")
	assert.Equal(t, llm.RoleAssistant, final[3].Role)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := map[string]Complexity{
		"Full review of the discovery responses": Complex,
		"Draft a letter to opposing counsel":     Moderate,
		"Quick check of the filing deadline":     Simple,
		"Handle the Smith matter":                Moderate,
		"Review the lease":                       Simple,
		"Prepare for trial prep next week":       Complex,
	}
	for goal, want := range cases {
		assert.Equal(t, want, Classify(goal), goal)
	}
}

func TestBudgetsFor(t *testing.T) {
	t.Parallel()
	b := Budgets{Simple: {MaxIterations: 10}}
	assert.Equal(t, Budget{MaxIterations: 10, MaxRuntime: 30 * time.Minute}, b.For(Simple))
	assert.Equal(t, Budget{MaxIterations: 120, MaxRuntime: 90 * time.Minute}, b.For(Complex))
	assert.Equal(t, Budget{MaxIterations: 90, MaxRuntime: time.Hour}, Budgets(nil).For("unknown"))
}

func TestDefaultOutputPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "output/Motion_to_Dismiss.md", DefaultOutputPath("Motion to Dismiss"))
	assert.Equal(t, "output/Untitled.md", DefaultOutputPath(""))
}
