package compact

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conversation builds system, user, then n assistant/tool pairs.
func conversation(pairs int) []llm.Message {
	msgs := []llm.Message{llm.System("prompt"), llm.User("TASK: draft memo")}
	for i := 0; i < pairs; i++ {
		id := fmt.Sprintf("call_%d", i)
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: id, Type: "function", Function: llm.FunctionCall{Name: "read_file", Arguments: "{}"}}}},
			llm.ToolResult(id, `{"success":true}`),
		)
	}
	return msgs
}

func state() State {
	return State{
		Phases:    []string{"ISSUE: whether the lease ended", "RULE: notice required. Authorities: RPL 232-a"},
		Actions:   strings.Split("a b c d e f g h i j k l m n o p q", " "),
		Iteration: 23,
		Elapsed:   95 * time.Second,
	}
}

func TestNeeded(t *testing.T) {
	t.Parallel()
	c := Compactor{}
	assert.False(t, c.Needed(make([]llm.Message, 45)))
	assert.True(t, c.Needed(make([]llm.Message, 46)))
	assert.True(t, Compactor{Ceiling: 10}.Needed(make([]llm.Message, 11)))
}

func TestCompact_ShapeAndDigest(t *testing.T) {
	t.Parallel()
	msgs := conversation(24) // 50 messages
	out, ok := Compactor{}.Compact(msgs, state())
	require.True(t, ok)

	require.Len(t, out, 3+30)
	assert.Equal(t, msgs[0], out[0])
	assert.Equal(t, msgs[1], out[1])
	assert.True(t, IsDigest(out[2]))
	assert.Equal(t, msgs[len(msgs)-30:], out[3:])
	assert.Equal(t, llm.RoleAssistant, out[3].Role)

	want := "[CONTEXT SUMMARY - 18 earlier messages compacted]\n" +
		"Iteration: 23 | Elapsed: 95s\n" +
		"ISSUE: whether the lease ended\n" +
		"RULE: notice required. Authorities: RPL 232-a\n" +
		"Actions taken: c, d, e, f, g, h, i, j, k, l, m, n, o, p, q\n" +
		"Continue from where you left off. Use task_complete when done."
	assert.Equal(t, want, out[2].Content)
}

func TestCompact_NoPhasesNoActions(t *testing.T) {
	t.Parallel()
	out, ok := Compactor{Keep: 4}.Compact(conversation(5), State{Iteration: 1})
	require.True(t, ok)
	assert.Contains(t, out[2].Content, "No IRAC phases completed yet.")
	assert.NotContains(t, out[2].Content, "Actions taken")
}

func TestCompact_NeverStartsWithOrphanToolMessage(t *testing.T) {
	t.Parallel()
	msgs := conversation(24)
	out, ok := Compactor{Keep: 29}.Compact(msgs, state())
	require.True(t, ok)
	assert.Equal(t, llm.RoleAssistant, out[3].Role)
	assert.Len(t, out, 3+28)
	seen := map[string]bool{}
	for _, m := range out {
		for _, tc := range m.ToolCalls {
			seen[tc.ID] = true
		}
		if m.Role == llm.RoleTool {
			assert.True(t, seen[m.ToolCallID], "tool message %s has no earlier request", m.ToolCallID)
		}
	}
}

func TestCompact_Idempotent(t *testing.T) {
	t.Parallel()
	c := Compactor{}
	st := state()
	once, ok := c.Compact(conversation(24), st)
	require.True(t, ok)

	twice, ok := c.Compact(once, st)
	assert.False(t, ok, "nothing left to drop")
	assert.Equal(t, once, twice)

	// Forcing a smaller window drops the old digest and rebuilds it from state.
	again, ok := Compactor{Keep: 20}.Compact(once, st)
	require.True(t, ok)
	digests := 0
	for _, m := range again {
		if IsDigest(m) {
			digests++
		}
	}
	assert.Equal(t, 1, digests)
	phases := func(s string) string {
		lines := strings.Split(s, "\n")
		return strings.Join(lines[2:], "\n")
	}
	assert.Equal(t, phases(once[2].Content), phases(again[2].Content))
}

func TestCompact_ShortConversationUntouched(t *testing.T) {
	t.Parallel()
	msgs := conversation(3)
	out, ok := Compactor{}.Compact(msgs, state())
	assert.False(t, ok)
	assert.Equal(t, msgs, out)
}
