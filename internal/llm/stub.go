package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stub is a deterministic local model that walks the IRAC chain, saves a
// placeholder memo and completes, without calling any external service.
// It is used for dry runs and worker tests.
type Stub struct {
	// Delay is slept before each reply; the sleep ends early when ctx is done.
	Delay time.Duration
}

func (Stub) Name() string { return "stub" }

// Complete picks the next step from how many tool results the conversation
// already holds.
func (s Stub) Complete(ctx context.Context, req Request) (*Response, error) {
	sleep(ctx, s.Delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	goal := ""
	done := 0
	for _, m := range req.Messages {
		switch {
		case m.Role == RoleTool:
			done++
		case m.Role == RoleUser && goal == "" && strings.HasPrefix(m.Content, "TASK: "):
			goal, _, _ = strings.Cut(strings.TrimPrefix(m.Content, "TASK: "), "\n")
		}
	}
	script := stubScript(goal)
	if done >= len(script) {
		return stubReply(Message{Role: RoleAssistant, Content: "stub: done"}), nil
	}
	step := script[done]
	args, err := json.Marshal(step.args)
	if err != nil {
		return nil, err
	}
	return stubReply(Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{{
			ID:       fmt.Sprintf("stub_%d", done+1),
			Type:     "function",
			Function: FunctionCall{Name: step.name, Arguments: string(args)},
		}},
	}), nil
}

type stubStep struct {
	name string
	args map[string]any
}

func stubScript(goal string) []stubStep {
	memo := "# Stub memo\n\n" + goal + "\n\n[NEEDS REVIEW: generated by the stub model]\n"
	return []stubStep{
		{"identify_legal_issue", map[string]any{"issue_statement": "The issue is whether " + goal}},
		{"state_legal_rule", map[string]any{"rule_statement": "No rule researched by the stub model.", "primary_authority": []string{"[UNVERIFIED - needs cite check]"}}},
		{"perform_legal_analysis", map[string]any{"analysis": "Stub analysis.", "favorable_arguments": []string{"none"}}},
		{"state_conclusion", map[string]any{"conclusion": "Stub conclusion.", "recommendation": "Review manually."}},
		{"self_critique", map[string]any{"strength_assessment": "placeholder", "citation_check": true, "completeness_check": true, "overall_grade": "B"}},
		{"finalize_work_product", map[string]any{"title": "Stub Memo", "content": memo, "document_type": "memo"}},
		{"task_complete", map[string]any{"summary": "stub: ok", "success": true, "output_files": []string{"output/Stub_Memo.md"}}},
	}
}

func stubReply(m Message) *Response {
	return &Response{Choices: []Choice{{Message: m, FinishReason: "stop"}}}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
