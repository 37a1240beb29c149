package learning

import (
	"fmt"
	"sort"
	"strings"
)

// StyleGuide returns the human-readable style guide markdown.
func (s *Store) StyleGuide() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderStyleGuide()
}

func stars(confidence float64) string {
	n := int(confidence * 5)
	n = max(0, min(5, n))
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

// renderStyleGuide is called with s.mu held.
func (s *Store) renderStyleGuide() string {
	var b strings.Builder
	b.WriteString("# Legal Writing Style Guide\n\n")
	b.WriteString("This guide is automatically maintained based on your feedback and edits.\n")
	b.WriteString("The agent reads it before every task to match your preferences.\n\n")
	b.WriteString("*Last updated: " + s.now().Format("2006-01-02 15:04") + "*\n\n---\n\n")

	byCategory := make(map[string][]Preference)
	for _, p := range s.prefs {
		c := p.Category()
		byCategory[c] = append(byCategory[c], p.clone())
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		prefs := byCategory[c]
		sortByConfidence(prefs)
		b.WriteString("## " + c + "\n\n")
		for _, p := range prefs {
			b.WriteString("### " + p.Topic + "\n\n")
			b.WriteString("**Instruction:** " + p.Instruction + "\n\n")
			if len(p.Examples) > 0 {
				b.WriteString("**Examples:**\n")
				for _, e := range p.Examples[:min(3, len(p.Examples))] {
					b.WriteString("- " + e + "\n")
				}
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "*Confidence: %s (%.0f%%)*\n\n", stars(p.Confidence), p.Confidence*100)
		}
	}

	if len(s.patterns) > 0 {
		b.WriteString("---\n\n## Learned Patterns from Your Edits\n\n")
		top := append([]EditPattern(nil), s.patterns...)
		sort.SliceStable(top, func(i, j int) bool { return top[i].Occurrences > top[j].Occurrences })
		for _, p := range top[:min(10, len(top))] {
			fmt.Fprintf(&b, "- **Change:** %q → %q\n", p.Original, p.Corrected)
			fmt.Fprintf(&b, "  - Context: %s\n", p.Context)
			fmt.Fprintf(&b, "  - Seen %d time(s)\n\n", p.Occurrences)
		}
	}
	return b.String()
}
