package learning

import (
	"fmt"
	"strings"
	"time"
)

// Replacements shorter or longer than these bounds are not learned from.
const (
	minPatternLen    = 3
	maxPatternLen    = 200
	patternThreshold = 3
)

// EditPattern is one recurring replacement a user made to agent output.
type EditPattern struct {
	Original    string    `json:"original_pattern"`
	Corrected   string    `json:"corrected_pattern"`
	Context     string    `json:"context"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Replacement is one changed span between two texts.
type Replacement struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// EditStats counts the changed spans found by ReviewEdits.
type EditStats struct {
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	Replacements int `json:"replacements"`
}

// EditReview is the outcome of comparing agent output with the user's final
// version.
type EditReview struct {
	ChangesDetected    bool          `json:"changes_detected"`
	Stats              EditStats     `json:"statistics"`
	Replacements       []Replacement `json:"replacements"`
	NewPatterns        int           `json:"new_patterns_learned"`
	LearnedPreferences []Preference  `json:"learned_preferences"`
}

// ReviewEdits diffs original against final word by word and records each
// replacement as an edit pattern for docType. A pattern seen for the third
// time becomes (or reinforces) the preference "Terminology:<docType>".
func (s *Store) ReviewEdits(original, final, docType string) (EditReview, error) {
	if docType == "" {
		docType = "general"
	}
	review := EditReview{Replacements: []Replacement{}, LearnedPreferences: []Preference{}}
	if original == final {
		return review, nil
	}
	review.ChangesDetected = true

	hunks := diffWords(strings.Fields(original), strings.Fields(final))
	var reps []Replacement
	for _, h := range hunks {
		switch {
		case len(h.del) > 0 && len(h.ins) > 0:
			reps = append(reps, Replacement{Original: strings.Join(h.del, " "), Corrected: strings.Join(h.ins, " ")})
		case len(h.del) > 0:
			review.Stats.Deletions++
		case len(h.ins) > 0:
			review.Stats.Additions++
		}
	}
	review.Stats.Replacements = len(reps)
	review.Replacements = reps[:min(10, len(reps))]

	var promote []EditPattern
	s.mu.Lock()
	now := s.now().UTC()
	for _, r := range reps {
		if !learnable(r.Original) || !learnable(r.Corrected) {
			continue
		}
		i := s.findPattern(r.Original, r.Corrected, docType)
		if i < 0 {
			s.patterns = append(s.patterns, EditPattern{
				Original:    r.Original,
				Corrected:   r.Corrected,
				Context:     docType,
				Occurrences: 1,
				FirstSeen:   now,
				LastSeen:    now,
			})
			review.NewPatterns++
			continue
		}
		p := &s.patterns[i]
		p.Occurrences++
		p.LastSeen = now
		if p.Occurrences == patternThreshold {
			promote = append(promote, *p)
		}
	}
	err := s.savePatterns()
	s.mu.Unlock()
	if err != nil {
		return review, err
	}

	for _, p := range promote {
		res, err := s.UpdatePreference(
			"Terminology:"+p.Context,
			fmt.Sprintf("Use %q instead of %q", p.Corrected, p.Original),
			[]string{fmt.Sprintf("%q → %q", p.Original, p.Corrected)},
			SourceUserEdit,
		)
		if err != nil {
			return review, err
		}
		review.LearnedPreferences = append(review.LearnedPreferences, res.Preference)
	}
	return review, nil
}

func learnable(s string) bool {
	n := len([]rune(s))
	return n >= minPatternLen && n <= maxPatternLen
}

// findPattern is called with s.mu held.
func (s *Store) findPattern(original, corrected, context string) int {
	for i, p := range s.patterns {
		if p.Original == original && p.Corrected == corrected && p.Context == context {
			return i
		}
	}
	return -1
}

// EditPatterns returns the recorded edit patterns.
func (s *Store) EditPatterns() []EditPattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EditPattern(nil), s.patterns...)
}

type hunk struct {
	del, ins []string
}

// diffWords returns the changed runs between a and b using a longest common
// subsequence table. Adjacent deletions and insertions form one hunk.
func diffWords(a, b []string) []hunk {
	// Trim the common prefix and suffix to keep the table small.
	for len(a) > 0 && len(b) > 0 && a[0] == b[0] {
		a, b = a[1:], b[1:]
	}
	for len(a) > 0 && len(b) > 0 && a[len(a)-1] == b[len(b)-1] {
		a, b = a[:len(a)-1], b[:len(b)-1]
	}
	n, m := len(a), len(b)
	lcs := make([][]int32, n+1)
	for i := range lcs {
		lcs[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var hunks []hunk
	var cur hunk
	flush := func() {
		if len(cur.del) > 0 || len(cur.ins) > 0 {
			hunks = append(hunks, cur)
			cur = hunk{}
		}
	}
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && a[i] == b[j]:
			flush()
			i++
			j++
		case j < m && (i == n || lcs[i][j+1] >= lcs[i+1][j]):
			cur.ins = append(cur.ins, b[j])
			j++
		default:
			cur.del = append(cur.del, a[i])
			i++
		}
	}
	flush()
	return hunks
}
