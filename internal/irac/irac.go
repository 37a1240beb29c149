// Package irac tracks the Issue, Rule, Analysis, Conclusion and Critique
// phases of a legal analysis and advises which phase comes next. Recording
// is never blocked by order; the tracker only suggests.
package irac

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
)

// Phase names one slot of the analysis.
type Phase string

const (
	Issue      Phase = "issue"
	Rule       Phase = "rule"
	Analysis   Phase = "analysis"
	Conclusion Phase = "conclusion"
	Critique   Phase = "critique"
)

// Phases lists the phases in canonical order.
var Phases = []Phase{Issue, Rule, Analysis, Conclusion, Critique}

// ParsePhase converts a phase name. Unknown names are validation errors.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Phases, p) {
		return "", tools.Invalid("unknown IRAC phase %q (want one of issue, rule, analysis, conclusion, critique)", s)
	}
	return p, nil
}

// DefaultMaxCritiques caps refinement rounds before finalization is advised.
const DefaultMaxCritiques = 3

// Grades a critique may assign.
const (
	GradeA         = "A"
	GradeB         = "B"
	GradeC         = "C"
	GradeNeedsWork = "needs_work"
)

// Next-step guidance returned to the model.
const (
	NextRule       = "Now state the legal rule with citations using state_legal_rule"
	NextAnalysis   = "Now apply the rule to facts using perform_legal_analysis"
	NextConclusion = "Now state your conclusion using state_conclusion"
	NextCritique   = "Now critique your work using self_critique before finalizing"
	NextRefine     = "Refine your work to address the weaknesses, then critique again"
	NextFinalize   = "Work product approved. Use finalize_work_product to save it."
	NextCapReached = "Critique limit reached. Finalize the work product with finalize_work_product and flag the remaining weaknesses with [NEEDS REVIEW]."
)

var nextAfter = map[Phase]string{
	Issue:      NextRule,
	Rule:       NextAnalysis,
	Analysis:   NextConclusion,
	Conclusion: NextCritique,
}

// Record is one recorded phase. Content holds the phase input as JSON.
type Record struct {
	Phase           Phase           `json:"phase"`
	Content         json.RawMessage `json:"content"`
	Completed       bool            `json:"completed"`
	Passed          bool            `json:"critique_passed,omitempty"`
	NeedsRefinement bool            `json:"refinement_needed,omitempty"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

// Advice is what the tracker suggests after a recording.
type Advice struct {
	Phase           Phase    `json:"phase"`
	Next            string   `json:"next_step"`
	Grade           string   `json:"grade,omitempty"`
	NeedsRefinement bool     `json:"needs_refinement"`
	Refinements     []string `json:"refinements,omitempty"`
	Attempt         int      `json:"attempt,omitempty"`
}

// Tracker holds the phase slots for one task.
type Tracker struct {
	mu           sync.Mutex
	records      map[Phase]Record
	critiques    int
	maxCritiques int
	now          func() time.Time
}

// NewTracker returns an empty tracker. maxCritiques <= 0 uses
// DefaultMaxCritiques.
func NewTracker(maxCritiques int) *Tracker {
	if maxCritiques <= 0 {
		maxCritiques = DefaultMaxCritiques
	}
	return &Tracker{records: make(map[Phase]Record), maxCritiques: maxCritiques, now: time.Now}
}

func (t *Tracker) put(p Phase, v any, passed, refine bool) error {
	content, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	t.records[p] = Record{
		Phase:           p,
		Content:         content,
		Completed:       true,
		Passed:          passed,
		NeedsRefinement: refine,
		RecordedAt:      t.now().UTC(),
	}
	return nil
}

func (t *Tracker) record(p Phase, v interface{ validate() error }) (Advice, error) {
	if err := v.validate(); err != nil {
		return Advice{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.put(p, v, false, false); err != nil {
		return Advice{}, err
	}
	return Advice{Phase: p, Next: nextAfter[p]}, nil
}

func (t *Tracker) RecordIssue(in IssueInput) (Advice, error)           { return t.record(Issue, in) }
func (t *Tracker) RecordRule(in RuleInput) (Advice, error)             { return t.record(Rule, in) }
func (t *Tracker) RecordAnalysis(in AnalysisInput) (Advice, error)     { return t.record(Analysis, in) }
func (t *Tracker) RecordConclusion(in ConclusionInput) (Advice, error) { return t.record(Conclusion, in) }

// RecordCritique stores a critique and decides between refining and
// finalizing. Only a needs_work grade asks for another round, and only until
// the critique cap is reached. Any other grade advises finalization even when
// refinements are listed; the record still flags them.
func (t *Tracker) RecordCritique(in CritiqueInput) (Advice, error) {
	if err := in.validate(); err != nil {
		return Advice{}, err
	}
	passed := in.OverallGrade == GradeA || in.OverallGrade == GradeB
	refine := in.OverallGrade == GradeNeedsWork || len(in.RefinementsNeeded) > 0

	t.mu.Lock()
	defer t.mu.Unlock()
	t.critiques++
	if err := t.put(Critique, in, passed, refine); err != nil {
		return Advice{}, err
	}
	a := Advice{Phase: Critique, Grade: in.OverallGrade, Attempt: t.critiques, Refinements: in.RefinementsNeeded}
	switch {
	case in.OverallGrade != GradeNeedsWork:
		a.Next = NextFinalize
	case t.critiques < t.maxCritiques:
		a.NeedsRefinement = true
		a.Next = NextRefine
	default:
		a.Next = NextCapReached
	}
	return a, nil
}

// Get returns the record for a phase. Unrecorded phases are validation
// errors.
func (t *Tracker) Get(p Phase) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[p]
	if !ok {
		return Record{}, tools.Invalid("IRAC phase %s has not been recorded", p)
	}
	return r, nil
}

// Completed lists the recorded phases in canonical order.
func (t *Tracker) Completed() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []Phase{}
	for _, p := range Phases {
		if _, ok := t.records[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Suggested returns the first canonical phase not yet recorded, or "" when
// all are.
func (t *Tracker) Suggested() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range Phases {
		if _, ok := t.records[p]; !ok {
			return p
		}
	}
	return ""
}

// Critiques returns how many critiques were recorded.
func (t *Tracker) Critiques() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.critiques
}

// Snapshot returns each recorded phase's content keyed by phase name.
func (t *Tracker) Snapshot() map[string]json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]json.RawMessage, len(t.records))
	for p, r := range t.records {
		out[string(p)] = slices.Clone(r.Content)
	}
	return out
}
