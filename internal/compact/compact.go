// Package compact bounds the length of an agent conversation. The system
// prompt and the original task stay verbatim, the most recent messages are
// kept, and everything in between is replaced by a digest rebuilt from the
// task's authoritative state.
package compact

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/llm"
)

// Defaults.
const (
	DefaultCeiling       = 45
	DefaultKeep          = 30
	DefaultRecentActions = 15
)

// DigestPrefix opens every synthesized summary message.
const DigestPrefix = "[CONTEXT SUMMARY"

// State is the task state a digest is built from.
type State struct {
	// Phases holds one line per recorded reasoning phase.
	Phases    []string
	Actions   []string
	Iteration int
	Elapsed   time.Duration
}

// Compactor holds the size limits. The zero value uses the defaults.
type Compactor struct {
	Ceiling       int
	Keep          int
	RecentActions int
}

func (c Compactor) ceiling() int {
	if c.Ceiling > 0 {
		return c.Ceiling
	}
	return DefaultCeiling
}

func (c Compactor) keep() int {
	if c.Keep > 0 {
		return c.Keep
	}
	return DefaultKeep
}

func (c Compactor) recent() int {
	if c.RecentActions > 0 {
		return c.RecentActions
	}
	return DefaultRecentActions
}

// Needed reports whether msgs exceeds the ceiling.
func (c Compactor) Needed(msgs []llm.Message) bool { return len(msgs) > c.ceiling() }

// IsDigest reports whether m is a synthesized summary.
func IsDigest(m llm.Message) bool {
	return m.Role == llm.RoleSystem && strings.HasPrefix(m.Content, DigestPrefix)
}

// Compact returns [system, first user, digest, recent...]. It returns msgs
// unchanged and false when there is nothing to drop. The recent window never
// starts with a tool message whose request was dropped.
func (c Compactor) Compact(msgs []llm.Message, st State) ([]llm.Message, bool) {
	if len(msgs) <= 2 {
		return msgs, false
	}
	head := msgs[:2]
	var body []llm.Message
	for _, m := range msgs[2:] {
		if !IsDigest(m) {
			body = append(body, m)
		}
	}
	start := max(0, len(body)-c.keep())
	for start < len(body) && body[start].Role == llm.RoleTool {
		start++
	}
	if start == 0 {
		return msgs, false
	}

	out := make([]llm.Message, 0, 3+len(body)-start)
	out = append(out, head...)
	out = append(out, llm.System(c.Digest(start, st)))
	out = append(out, body[start:]...)
	return out, true
}

// Digest renders the summary text for dropped earlier messages.
func (c Compactor) Digest(dropped int, st State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %d earlier messages compacted]\n", DigestPrefix, dropped)
	fmt.Fprintf(&b, "Iteration: %d | Elapsed: %.0fs\n", st.Iteration, st.Elapsed.Seconds())
	if len(st.Phases) == 0 {
		b.WriteString("No IRAC phases completed yet.\n")
	} else {
		b.WriteString(strings.Join(st.Phases, "\n"))
		b.WriteByte('\n')
	}
	if len(st.Actions) > 0 {
		acts := st.Actions[max(0, len(st.Actions)-c.recent()):]
		b.WriteString("Actions taken: " + strings.Join(acts, ", ") + "\n")
	}
	b.WriteString("Continue from where you left off. Use task_complete when done.")
	return b.String()
}
