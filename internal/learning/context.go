package learning

import (
	"fmt"
	"strings"
)

// MaxContextChars bounds the learning context injected into a prompt.
const MaxContextChars = 1500

// Context summarizes what has been learned that bears on task: the
// recommended workflow for its task type, the user's typical actions and
// recent lessons. It returns "" when nothing has been learned yet.
func (s *Store) Context(task string) string {
	var lines []string
	taskType := TaskType(task)
	if w, ok := s.RecommendedWorkflow(taskType, ""); ok {
		lines = append(lines, fmt.Sprintf("Recommended workflow for %s (%.0f%% success over %d runs): %s",
			w.Key(), w.SuccessRate()*100, w.Successes+w.Failures, strings.Join(w.Actions, " → ")))
	}

	lower := strings.ToLower(task)
	s.mu.Lock()
	var typical []BehaviorPattern
	for _, p := range s.behaviors {
		if strings.Contains(lower, strings.ToLower(p.Trigger)) {
			typical = append(typical, p)
		}
	}
	var lessons []string
	for i := len(s.observations) - 1; i >= 0 && len(lessons) < 5; i-- {
		for _, l := range s.observations[i].Lessons {
			if l = strings.TrimSpace(l); l != "" && len(lessons) < 5 {
				lessons = append(lessons, l)
			}
		}
	}
	s.mu.Unlock()

	if len(typical) > 0 {
		lines = append(lines, "Typical actions:")
		for _, p := range typical[:min(3, len(typical))] {
			lines = append(lines, fmt.Sprintf("- When %s, the user usually: %s", p.Trigger, p.Action))
		}
	}
	if len(lessons) > 0 {
		lines = append(lines, "Recent lessons:")
		for _, l := range lessons {
			lines = append(lines, "- "+l)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	out := "## LEARNED CONTEXT\n" + strings.Join(lines, "\n")
	if len(out) > MaxContextChars {
		out = truncateUTF8(out, MaxContextChars) + "\n..."
	}
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
