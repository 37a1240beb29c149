package learning

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"
)

// Preference sources.
const (
	SourceAgent    = "agent_learned"
	SourceUserEdit = "user_edit"
	SourceExplicit = "explicit_feedback"
)

const (
	initialConfidence = 0.5
	confidenceStep    = 0.1
	maxExamples       = 10
	// PromptPreferences is how many preferences go into a system prompt.
	PromptPreferences = 5
)

// Preference is a learned instruction keyed by a "Category:Specific" topic.
type Preference struct {
	Topic       string     `json:"topic"`
	Instruction string     `json:"instruction"`
	Examples    []string   `json:"examples"`
	Source      string     `json:"source"`
	Confidence  float64    `json:"confidence"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	UseCount    int        `json:"use_count"`
}

// Category is the part of the topic before the first ':', or "General".
func (p Preference) Category() string {
	if i := strings.Index(p.Topic, ":"); i > 0 {
		return p.Topic[:i]
	}
	return "General"
}

func (p *Preference) clone() Preference {
	c := *p
	c.Examples = slices.Clone(p.Examples)
	if p.LastUsed != nil {
		t := *p.LastUsed
		c.LastUsed = &t
	}
	return c
}

// UpdateResult reports what UpdatePreference did.
type UpdateResult struct {
	Preference Preference
	Created    bool
}

// UpdatePreference creates topic or reinforces it. Reinforcement replaces the
// instruction, merges examples and raises confidence by 0.1 up to 1.0.
func (s *Store) UpdatePreference(topic, instruction string, examples []string, source string) (UpdateResult, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return UpdateResult{}, fmt.Errorf("update preference: empty topic")
	}
	if strings.TrimSpace(instruction) == "" {
		return UpdateResult{}, fmt.Errorf("update preference %s: empty instruction", topic)
	}
	if source == "" {
		source = SourceAgent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, existed := s.prefs[topic]
	now := s.now().UTC()
	if existed {
		p.Instruction = instruction
		p.Examples = mergeExamples(p.Examples, examples)
		p.Confidence = reinforce(p.Confidence)
		p.UseCount++
		p.LastUsed = &now
	} else {
		p = &Preference{
			Topic:       topic,
			Instruction: instruction,
			Examples:    mergeExamples(nil, examples),
			Source:      source,
			Confidence:  initialConfidence,
			CreatedAt:   now,
		}
		s.prefs[topic] = p
	}
	if err := s.savePreferences(); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Preference: p.clone(), Created: !existed}, nil
}

// reinforce raises c by one step, rounded to two places and clamped at 1.
func reinforce(c float64) float64 {
	return math.Min(1, math.Round((c+confidenceStep)*100)/100)
}

// mergeExamples appends add to have without duplicates, keeping the most
// recent maxExamples.
func mergeExamples(have, add []string) []string {
	out := make([]string, 0, len(have)+len(add))
	seen := make(map[string]bool)
	for _, e := range append(slices.Clone(have), add...) {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	if len(out) > maxExamples {
		out = out[len(out)-maxExamples:]
	}
	return out
}

// Preference returns a copy of the preference for topic.
func (s *Store) Preference(topic string) (Preference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[topic]
	if !ok {
		return Preference{}, false
	}
	return p.clone(), true
}

// Preferences returns every preference, highest confidence first.
func (s *Store) Preferences() []Preference {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Preference, 0, len(s.prefs))
	for _, p := range s.prefs {
		out = append(out, p.clone())
	}
	sortByConfidence(out)
	return out
}

func sortByConfidence(ps []Preference) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Confidence != ps[j].Confidence {
			return ps[i].Confidence > ps[j].Confidence
		}
		return ps[i].Topic < ps[j].Topic
	})
}

// documentKinds maps a document category to the task words that select it.
var documentKinds = []struct {
	category string
	keywords []string
}{
	{"motion", []string{"motion", "court", "filing", "pleading"}},
	{"memo", []string{"memo", "memorandum", "analysis", "research"}},
	{"letter", []string{"letter", "correspondence", "client"}},
	{"brief", []string{"brief", "argument", "appellate"}},
	{"contract", []string{"contract", "agreement", "terms"}},
	{"discovery", []string{"discovery", "interrogator", "deposition", "request"}},
	{"email", []string{"email", "e-mail", "message"}},
}

// TaskType returns the first document category whose keywords occur in the
// task, or "general".
func TaskType(task string) string {
	lower := strings.ToLower(task)
	for _, k := range documentKinds {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				return k.category
			}
		}
	}
	return "general"
}

// Relevant returns the preferences that apply to task: every General
// preference plus those whose topic or instruction matches a document
// category the task mentions. Highest confidence first.
func (s *Store) Relevant(task string) []Preference {
	lower := strings.ToLower(task)
	var active []int
	for i, k := range documentKinds {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				active = append(active, i)
				break
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Preference
	for _, p := range s.prefs {
		if matchesTask(p, active) {
			out = append(out, p.clone())
		}
	}
	sortByConfidence(out)
	return out
}

func matchesTask(p *Preference, active []int) bool {
	topic := strings.ToLower(p.Topic)
	if strings.ToLower(p.Category()) == "general" {
		return true
	}
	instruction := strings.ToLower(p.Instruction)
	for _, i := range active {
		k := documentKinds[i]
		if strings.Contains(topic, k.category) {
			return true
		}
		for _, kw := range k.keywords {
			if strings.Contains(instruction, kw) {
				return true
			}
		}
	}
	return false
}

// PromptSection renders the top preferences for task and marks them used.
// It returns "" when nothing applies.
func (s *Store) PromptSection(task string) (string, error) {
	relevant := s.Relevant(task)
	if len(relevant) == 0 {
		return "", nil
	}
	if len(relevant) > PromptPreferences {
		relevant = relevant[:PromptPreferences]
	}
	lines := []string{"## STYLE PREFERENCES"}
	topics := make([]string, 0, len(relevant))
	for _, p := range relevant {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", p.Topic, p.Instruction))
		topics = append(topics, p.Topic)
	}
	if err := s.MarkUsed(topics...); err != nil {
		return strings.Join(lines, "\n"), err
	}
	return strings.Join(lines, "\n"), nil
}

// MarkUsed bumps the use counter and last-used time of each topic.
func (s *Store) MarkUsed(topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	changed := false
	for _, t := range topics {
		if p, ok := s.prefs[t]; ok {
			p.UseCount++
			p.LastUsed = &now
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.savePreferences()
}
