package learning

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// stableSuccessRate is the success rate above which a workflow's recorded
// action sequence is no longer replaced by newer successes.
const stableSuccessRate = 0.8

// WorkflowPattern is the action sequence that worked for a kind of task.
type WorkflowPattern struct {
	TaskType    string    `json:"task_type"`
	MatterType  string    `json:"matter_type"`
	Actions     []string  `json:"actions"`
	Successes   int       `json:"success_count"`
	Failures    int       `json:"failure_count"`
	AvgDuration float64   `json:"avg_duration_seconds"`
	Notes       string    `json:"notes,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key is "task_type:matter_type".
func (w WorkflowPattern) Key() string { return workflowKey(w.TaskType, w.MatterType) }

// SuccessRate is successes / (successes + failures), or 0 when unrecorded.
func (w WorkflowPattern) SuccessRate() float64 {
	total := w.Successes + w.Failures
	if total == 0 {
		return 0
	}
	return float64(w.Successes) / float64(total)
}

func workflowKey(taskType, matterType string) string {
	if matterType == "" {
		matterType = "general"
	}
	return strings.ToLower(taskType) + ":" + strings.ToLower(matterType)
}

// WorkflowRun is one recorded execution of a workflow.
type WorkflowRun struct {
	TaskType   string
	MatterType string
	Actions    []string
	Success    bool
	Duration   time.Duration
	Notes      string
}

// RecordWorkflow folds run into its workflow pattern. A successful run
// replaces the action sequence unless the pattern is already stable.
func (s *Store) RecordWorkflow(run WorkflowRun) (WorkflowPattern, error) {
	if strings.TrimSpace(run.TaskType) == "" {
		return WorkflowPattern{}, fmt.Errorf("record workflow: empty task type")
	}
	if run.MatterType == "" {
		run.MatterType = "general"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workflowKey(run.TaskType, run.MatterType)
	w, ok := s.workflows[key]
	if !ok {
		w = &WorkflowPattern{TaskType: strings.ToLower(run.TaskType), MatterType: strings.ToLower(run.MatterType)}
		s.workflows[key] = w
	}
	stable := w.SuccessRate() > stableSuccessRate
	if run.Success {
		w.Successes++
		if !stable || len(w.Actions) == 0 {
			w.Actions = slices.Clone(run.Actions)
		}
	} else {
		w.Failures++
	}
	n := float64(w.Successes + w.Failures)
	w.AvgDuration += (run.Duration.Seconds() - w.AvgDuration) / n
	if run.Notes != "" {
		w.Notes = run.Notes
	}
	w.UpdatedAt = s.now().UTC()
	if err := s.saveWorkflows(); err != nil {
		return WorkflowPattern{}, err
	}
	out := *w
	out.Actions = slices.Clone(w.Actions)
	return out, nil
}

// RecommendedWorkflow returns the pattern for taskType and matterType. When
// that exact pair is unknown it falls back to the most successful pattern for
// the task type.
func (s *Store) RecommendedWorkflow(taskType, matterType string) (WorkflowPattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workflows[workflowKey(taskType, matterType)]; ok && len(w.Actions) > 0 {
		out := *w
		out.Actions = slices.Clone(w.Actions)
		return out, true
	}
	var best *WorkflowPattern
	prefix := strings.ToLower(taskType) + ":"
	for k, w := range s.workflows {
		if !strings.HasPrefix(k, prefix) || len(w.Actions) == 0 {
			continue
		}
		if best == nil || w.SuccessRate() > best.SuccessRate() ||
			(w.SuccessRate() == best.SuccessRate() && w.Successes > best.Successes) {
			best = w
		}
	}
	if best == nil {
		return WorkflowPattern{}, false
	}
	out := *best
	out.Actions = slices.Clone(best.Actions)
	return out, true
}

// BehaviorPattern is something the user habitually does in a situation.
type BehaviorPattern struct {
	Trigger         string    `json:"trigger"`
	Action          string    `json:"action"`
	Frequency       int       `json:"frequency"`
	MatterTypes     []string  `json:"matter_types"`
	Priority        string    `json:"priority,omitempty"`
	TimeSensitivity string    `json:"time_sensitivity,omitempty"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// Behavior is one observation of user behavior.
type Behavior struct {
	Trigger         string
	Action          string
	MatterType      string
	Priority        string
	TimeSensitivity string
}

// RecordBehavior strengthens the (trigger, action) pattern or creates it.
func (s *Store) RecordBehavior(b Behavior) (BehaviorPattern, error) {
	if strings.TrimSpace(b.Trigger) == "" || strings.TrimSpace(b.Action) == "" {
		return BehaviorPattern{}, fmt.Errorf("record behavior: trigger and action are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	i := slices.IndexFunc(s.behaviors, func(p BehaviorPattern) bool {
		return strings.EqualFold(p.Trigger, b.Trigger) && strings.EqualFold(p.Action, b.Action)
	})
	if i < 0 {
		s.behaviors = append(s.behaviors, BehaviorPattern{
			Trigger:     b.Trigger,
			Action:      b.Action,
			MatterTypes: []string{},
			FirstSeen:   now,
		})
		i = len(s.behaviors) - 1
	}
	p := &s.behaviors[i]
	p.Frequency++
	p.LastSeen = now
	if b.MatterType != "" && !slices.Contains(p.MatterTypes, b.MatterType) {
		p.MatterTypes = append(p.MatterTypes, b.MatterType)
	}
	if b.Priority != "" {
		p.Priority = b.Priority
	}
	if b.TimeSensitivity != "" {
		p.TimeSensitivity = b.TimeSensitivity
	}
	if err := s.saveBehaviors(); err != nil {
		return BehaviorPattern{}, err
	}
	out := *p
	out.MatterTypes = slices.Clone(p.MatterTypes)
	return out, nil
}

// TypicalActions returns the behaviors whose trigger relates to context,
// most frequent first, at most limit of them.
func (s *Store) TypicalActions(context string, limit int) []BehaviorPattern {
	ctx := strings.ToLower(strings.TrimSpace(context))
	if ctx == "" {
		return []BehaviorPattern{}
	}
	s.mu.Lock()
	out := []BehaviorPattern{}
	for _, p := range s.behaviors {
		trig := strings.ToLower(p.Trigger)
		if strings.Contains(ctx, trig) || strings.Contains(trig, ctx) {
			c := p
			c.MatterTypes = slices.Clone(p.MatterTypes)
			out = append(out, c)
		}
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Outcomes an observation may record.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// Observation is the record of one finished task.
type Observation struct {
	Task       string    `json:"task_description"`
	Actions    []string  `json:"actions_taken"`
	Outcome    string    `json:"outcome"`
	Duration   float64   `json:"time_taken_seconds"`
	Lessons    []string  `json:"lessons"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordObservation appends o, evicting the oldest records beyond
// MaxObservations.
func (s *Store) RecordObservation(o Observation) error {
	switch o.Outcome {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
	default:
		return fmt.Errorf("record observation: invalid outcome %q", o.Outcome)
	}
	o.Actions = slices.Clone(o.Actions)
	if o.Actions == nil {
		o.Actions = []string{}
	}
	if o.Lessons == nil {
		o.Lessons = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.RecordedAt.IsZero() {
		o.RecordedAt = s.now().UTC()
	}
	s.observations = trimObservations(append(s.observations, o))
	return s.saveObservations()
}

func trimObservations(obs []Observation) []Observation {
	if len(obs) > MaxObservations {
		return slices.Clone(obs[len(obs)-MaxObservations:])
	}
	return obs
}

// Observations returns the observation log, oldest first.
func (s *Store) Observations() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.observations)
}
