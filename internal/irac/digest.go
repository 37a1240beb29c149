package irac

import (
	"encoding/json"
	"strings"
)

// clip cuts s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Digest renders one compact line per recorded phase, in canonical order.
// Field text is truncated so the digest stays small however verbose the
// phases were.
func (t *Tracker) Digest() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var lines []string
	for _, p := range Phases {
		r, ok := t.records[p]
		if !ok {
			continue
		}
		lines = append(lines, digestLine(r))
	}
	return lines
}

func digestLine(r Record) string {
	fallback := strings.ToUpper(string(r.Phase)) + ": completed"
	switch r.Phase {
	case Issue:
		var in IssueInput
		if json.Unmarshal(r.Content, &in) != nil {
			return fallback
		}
		return "ISSUE: " + clip(in.IssueStatement, 200)
	case Rule:
		var in RuleInput
		if json.Unmarshal(r.Content, &in) != nil {
			return fallback
		}
		var auth []string
		for _, a := range in.PrimaryAuthority[:min(3, len(in.PrimaryAuthority))] {
			auth = append(auth, clip(a, 80))
		}
		return "RULE: " + clip(in.RuleStatement, 150) + ". Authorities: " + strings.Join(auth, "; ")
	case Analysis:
		var in AnalysisInput
		if json.Unmarshal(r.Content, &in) != nil {
			return fallback
		}
		return "ANALYSIS: " + clip(in.Analysis, 200)
	case Conclusion:
		var in ConclusionInput
		if json.Unmarshal(r.Content, &in) != nil {
			return fallback
		}
		return "CONCLUSION: " + clip(in.Conclusion, 150)
	case Critique:
		var in CritiqueInput
		if json.Unmarshal(r.Content, &in) != nil || in.OverallGrade == "" {
			return "CRITIQUE: Grade=?"
		}
		return "CRITIQUE: Grade=" + in.OverallGrade
	}
	return fallback
}
