package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	fixed := time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s
}

func TestUpdatePreference_ConfidenceClimbsAndClamps(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	res, err := s.UpdatePreference("Citations:Bluebook", "Use Bluebook 21st edition", nil, "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 0.5, res.Preference.Confidence)
	assert.Equal(t, SourceAgent, res.Preference.Source)

	prev := res.Preference.Confidence
	for i := 0; i < 8; i++ {
		res, err = s.UpdatePreference("Citations:Bluebook", fmt.Sprintf("rule v%d", i), nil, "")
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.GreaterOrEqual(t, res.Preference.Confidence, prev)
		prev = res.Preference.Confidence
	}
	assert.Equal(t, 1.0, prev)
	assert.Equal(t, "rule v7", res.Preference.Instruction)
	assert.Equal(t, 8, res.Preference.UseCount)
}

func TestUpdatePreference_ExamplesDedupedAndCapped(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.UpdatePreference("Tone:Motion", "Be direct", []string{"a", "b", "a"}, "")
	require.NoError(t, err)
	var more []string
	for i := 0; i < 12; i++ {
		more = append(more, fmt.Sprintf("ex%d", i))
	}
	res, err := s.UpdatePreference("Tone:Motion", "Be direct", more, "")
	require.NoError(t, err)
	require.Len(t, res.Preference.Examples, 10)
	assert.Equal(t, "ex2", res.Preference.Examples[0])
	assert.Equal(t, "ex11", res.Preference.Examples[9])
}

func TestUpdatePreference_Validation(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.UpdatePreference(" ", "x", nil, "")
	assert.Error(t, err)
	_, err = s.UpdatePreference("Tone:Memo", "", nil, "")
	assert.Error(t, err)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.UpdatePreference("General:Dates", "Write dates as March 4, 2025", []string{"March 4, 2025"}, SourceExplicit)
	require.NoError(t, err)
	require.NoError(t, s.RecordObservation(Observation{Task: "memo", Outcome: OutcomeSuccess, Lessons: []string{"cite the lease"}}))

	again, err := Open(s.Dir())
	require.NoError(t, err)
	p, ok := again.Preference("General:Dates")
	require.True(t, ok)
	assert.Equal(t, SourceExplicit, p.Source)
	assert.Equal(t, []string{"March 4, 2025"}, p.Examples)
	require.Len(t, again.Observations(), 1)

	raw, err := os.ReadFile(PreferencesPath(s.Dir()))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "preferences")
	assert.Contains(t, doc, "last_updated")
}

func TestStyleGuide_GroupsByCategoryWithStars(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.UpdatePreference("Tone:Motion", "Be aggressive", []string{"one", "two", "three", "four"}, "")
	require.NoError(t, err)
	_, err = s.UpdatePreference("Citations:Bluebook", "Use Bluebook", nil, "")
	require.NoError(t, err)
	_, err = s.UpdatePreference("Citations:Bluebook", "Use Bluebook 21st", nil, "")
	require.NoError(t, err)
	_, err = s.UpdatePreference("Plain", "No legalese", nil, "")
	require.NoError(t, err)

	guide := s.StyleGuide()
	assert.True(t, strings.HasPrefix(guide, "# Legal Writing Style Guide\n"))
	ci := strings.Index(guide, "## Citations")
	gi := strings.Index(guide, "## General")
	ti := strings.Index(guide, "## Tone")
	assert.True(t, ci > 0 && ci < gi && gi < ti, "categories sorted")
	assert.Contains(t, guide, "**Instruction:** Use Bluebook 21st")
	assert.Contains(t, guide, "*Confidence: ★★★☆☆ (60%)*")
	assert.Contains(t, guide, "- three\n")
	assert.NotContains(t, guide, "- four\n")

	onDisk, err := os.ReadFile(StyleGuidePath(s.Dir()))
	require.NoError(t, err)
	assert.Equal(t, guide, string(onDisk))
}

func TestRelevant_SelectsByTaskCategory(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	for _, p := range []struct{ topic, instr string }{
		{"Tone:Motion", "Be aggressive"},
		{"Format:Letter", "Sign as partner"},
		{"General:Dates", "Spell out months"},
		{"Citations:Court", "Pinpoint every motion citation"},
	} {
		_, err := s.UpdatePreference(p.topic, p.instr, nil, "")
		require.NoError(t, err)
	}
	var topics []string
	for _, p := range s.Relevant("Draft a motion to dismiss") {
		topics = append(topics, p.Topic)
	}
	assert.ElementsMatch(t, []string{"Tone:Motion", "General:Dates", "Citations:Court"}, topics)

	topics = nil
	for _, p := range s.Relevant("Write a letter to the client") {
		topics = append(topics, p.Topic)
	}
	assert.ElementsMatch(t, []string{"Format:Letter", "General:Dates"}, topics)
}

func TestPromptSection_TopFiveMarkedUsed(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	for i := 0; i < 7; i++ {
		_, err := s.UpdatePreference(fmt.Sprintf("General:Rule%d", i), fmt.Sprintf("rule %d", i), nil, "")
		require.NoError(t, err)
	}
	out, err := s.PromptSection("anything")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "## STYLE PREFERENCES", lines[0])
	assert.Len(t, lines, 1+PromptPreferences)

	used := 0
	for _, p := range s.Preferences() {
		if p.UseCount == 1 {
			used++
			require.NotNil(t, p.LastUsed)
		}
	}
	assert.Equal(t, PromptPreferences, used)

	empty := openStore(t)
	out, err = empty.PromptSection("anything")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReviewEdits_ThirdOccurrenceCreatesTerminology(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	orig := "The tenant shall pay rent on the first day."
	final := "The tenant must pay rent on the first day."

	r, err := s.ReviewEdits(orig, orig, "lease")
	require.NoError(t, err)
	assert.False(t, r.ChangesDetected)

	for i := 1; i <= 2; i++ {
		r, err = s.ReviewEdits(orig, final, "lease")
		require.NoError(t, err)
		assert.True(t, r.ChangesDetected)
		assert.Equal(t, 1, r.Stats.Replacements)
		assert.Equal(t, []Replacement{{Original: "shall", Corrected: "must"}}, r.Replacements)
		assert.Empty(t, r.LearnedPreferences)
	}
	assert.Equal(t, 1, len(s.EditPatterns()))

	r, err = s.ReviewEdits(orig, final, "lease")
	require.NoError(t, err)
	require.Len(t, r.LearnedPreferences, 1)
	p := r.LearnedPreferences[0]
	assert.Equal(t, "Terminology:lease", p.Topic)
	assert.Equal(t, `Use "must" instead of "shall"`, p.Instruction)
	assert.Equal(t, SourceUserEdit, p.Source)
	assert.Equal(t, 3, s.EditPatterns()[0].Occurrences)
	assert.Contains(t, s.StyleGuide(), "## Learned Patterns from Your Edits")
}

func TestReviewEdits_ShortAndPureChanges(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	r, err := s.ReviewEdits("pay a fee now", "pay an extra fee", "")
	require.NoError(t, err)
	assert.Equal(t, EditStats{Deletions: 1, Replacements: 1}, r.Stats)
	assert.Empty(t, s.EditPatterns(), "replacements under three characters are ignored")

	r, err = s.ReviewEdits("alpha beta", "alpha beta gamma", "")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Stats.Additions)
	r, err = s.ReviewEdits("alpha beta gamma", "alpha gamma", "")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Stats.Deletions)
}

func TestDiffWords(t *testing.T) {
	t.Parallel()
	h := diffWords(strings.Fields("a b c d e"), strings.Fields("a x c d y e"))
	require.Len(t, h, 2)
	assert.Equal(t, hunk{del: []string{"b"}, ins: []string{"x"}}, h[0])
	assert.Equal(t, hunk{ins: []string{"y"}}, h[1])
}

func TestRecordWorkflow_StabilityBias(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	first := []string{"read_file", "identify_legal_issue", "task_complete"}
	w, err := s.RecordWorkflow(WorkflowRun{TaskType: "Memo", Actions: first, Success: true, Duration: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "memo:general", w.Key())
	assert.Equal(t, 1.0, w.SuccessRate())

	w, err = s.RecordWorkflow(WorkflowRun{TaskType: "memo", Actions: []string{"write_file"}, Success: true, Duration: 20 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, first, w.Actions, "stable workflow keeps its sequence")
	assert.InDelta(t, 15, w.AvgDuration, 1e-9)

	_, err = s.RecordWorkflow(WorkflowRun{TaskType: "memo", Success: false})
	require.NoError(t, err)
	_, err = s.RecordWorkflow(WorkflowRun{TaskType: "memo", Success: false})
	require.NoError(t, err)
	w, err = s.RecordWorkflow(WorkflowRun{TaskType: "memo", Actions: []string{"search_semantic"}, Success: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"search_semantic"}, w.Actions, "unstable workflow takes the newest sequence")
	assert.Equal(t, 3, w.Successes)
	assert.Equal(t, 2, w.Failures)

	got, ok := s.RecommendedWorkflow("memo", "real_estate")
	require.True(t, ok, "falls back to the task type")
	assert.Equal(t, "memo:general", got.Key())
	_, ok = s.RecommendedWorkflow("motion", "")
	assert.False(t, ok)
}

func TestRecordBehavior_Strengthens(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	for _, mt := range []string{"litigation", "litigation", "employment"} {
		_, err := s.RecordBehavior(Behavior{Trigger: "new client intake", Action: "run conflict check", MatterType: mt, Priority: "high"})
		require.NoError(t, err)
	}
	p, err := s.RecordBehavior(Behavior{Trigger: "New Client Intake", Action: "Run Conflict Check", TimeSensitivity: "same_day"})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Frequency)
	assert.Equal(t, []string{"litigation", "employment"}, p.MatterTypes)
	assert.Equal(t, "high", p.Priority)
	assert.Equal(t, "same_day", p.TimeSensitivity)

	_, err = s.RecordBehavior(Behavior{Trigger: "new client intake", Action: "send engagement letter"})
	require.NoError(t, err)
	typical := s.TypicalActions("new client intake", 5)
	require.Len(t, typical, 2)
	assert.Equal(t, "run conflict check", typical[0].Action)
	assert.Empty(t, s.TypicalActions("", 5))
}

func TestRecordObservation_CappedAt500(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	for i := 0; i < MaxObservations+25; i++ {
		require.NoError(t, s.RecordObservation(Observation{Task: fmt.Sprintf("t%d", i), Outcome: OutcomeSuccess}))
	}
	obs := s.Observations()
	require.Len(t, obs, MaxObservations)
	assert.Equal(t, "t25", obs[0].Task)
	assert.Equal(t, fmt.Sprintf("t%d", MaxObservations+24), obs[len(obs)-1].Task)

	assert.Error(t, s.RecordObservation(Observation{Task: "x", Outcome: "great"}))
}

func TestContext_CombinesSources(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	assert.Empty(t, s.Context("Draft a memo"))

	_, err := s.RecordWorkflow(WorkflowRun{TaskType: "memo", Actions: []string{"read_file", "task_complete"}, Success: true})
	require.NoError(t, err)
	_, err = s.RecordBehavior(Behavior{Trigger: "memo", Action: "copy the supervising partner"})
	require.NoError(t, err)
	require.NoError(t, s.RecordObservation(Observation{Task: "memo", Outcome: OutcomePartial, Lessons: []string{"check the lease first"}}))

	ctx := s.Context("Draft a memo on the lease")
	assert.True(t, strings.HasPrefix(ctx, "## LEARNED CONTEXT\n"))
	assert.Contains(t, ctx, "memo:general (100% success over 1 runs): read_file → task_complete")
	assert.Contains(t, ctx, "- When memo, the user usually: copy the supervising partner")
	assert.Contains(t, ctx, "- check the lease first")

	for i := 0; i < 40; i++ {
		require.NoError(t, s.RecordObservation(Observation{Task: "memo", Outcome: OutcomeSuccess, Lessons: []string{strings.Repeat("long lesson ", 40)}}))
	}
	assert.LessOrEqual(t, len(s.Context("memo")), MaxContextChars+4)
}

func TestTaskType(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Draft a motion to compel":          "motion",
		"Research memo on easements":        "memo",
		"Reply to opposing counsel's email": "email",
		"Organize the file":                 "general",
	}
	for in, want := range cases {
		assert.Equal(t, want, TaskType(in), in)
	}
}

func TestWatch_ReloadsExternalEdits(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	doc := `{"preferences":{"Tone:Letter":{"instruction":"Warm but brief","examples":[],"source":"explicit_feedback","confidence":0.9,"use_count":0}}}`
	require.NoError(t, os.WriteFile(PreferencesPath(s.Dir()), []byte(doc), 0o644))

	require.Eventually(t, func() bool {
		p, ok := s.Preference("Tone:Letter")
		return ok && p.Instruction == "Warm but brief"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestReload_OwnWriteKeepsNewerState(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	_, err := s.UpdatePreference("Tone:Memo", "Lead with the answer", nil, "")
	require.NoError(t, err)
	stale, err := os.ReadFile(PreferencesPath(s.Dir()))
	require.NoError(t, err)

	res, err := s.UpdatePreference("Tone:Memo", "Lead with the answer", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0.6, res.Preference.Confidence)

	// The watcher firing for the store's own latest write is a no-op.
	require.NoError(t, s.reload(PreferencesFile))
	p, ok := s.Preference("Tone:Memo")
	require.True(t, ok)
	assert.Equal(t, 0.6, p.Confidence)

	res, err = s.UpdatePreference("Tone:Memo", "Lead with the answer", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0.7, res.Preference.Confidence)

	// Content that differs from the last write is an outside edit and wins.
	require.NoError(t, os.WriteFile(PreferencesPath(s.Dir()), stale, 0o644))
	require.NoError(t, s.reload(PreferencesFile))
	p, _ = s.Preference("Tone:Memo")
	assert.Equal(t, 0.5, p.Confidence)
}

func TestReload_ConcurrentWithUpdatesNeverLosesReinforcement(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	const topic = "Citations:Pinpoint"
	_, err := s.UpdatePreference(topic, "Always pin cite", nil, "")
	require.NoError(t, err)

	stop := make(chan struct{})
	reloaded := make(chan struct{})
	go func() {
		defer close(reloaded)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = s.reload(PreferencesFile)
		}
	}()

	prev := 0.5
	for i := 0; i < 5; i++ {
		res, err := s.UpdatePreference(topic, "Always pin cite", nil, "")
		require.NoError(t, err)
		assert.Greater(t, res.Preference.Confidence, prev, "update %d", i)
		prev = res.Preference.Confidence
	}
	close(stop)
	<-reloaded
	p, ok := s.Preference(topic)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.Confidence)
}

func TestRegister_LearningTools(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, s))
	assert.Len(t, reg.List(), 7)
	ctx := context.Background()

	res := reg.Dispatch(ctx, "update_preference", json.RawMessage(`{"topic":"Tone:Memo","instruction":"Lead with the answer"}`))
	require.True(t, res.Succeeded(), res.String())
	assert.Equal(t, "created", res["action"])

	res = reg.Dispatch(ctx, "get_style_preferences", json.RawMessage(`{"task_description":"write a memo"}`))
	require.True(t, res.Succeeded())
	assert.Len(t, res["preferences"], 1)

	res = reg.Dispatch(ctx, "record_workflow_success", json.RawMessage(`{"task_type":"memo","actions":["read_file"]}`))
	require.True(t, res.Succeeded(), res.String())
	res = reg.Dispatch(ctx, "get_recommended_workflow", json.RawMessage(`{"task_type":"memo"}`))
	assert.Equal(t, true, res["found"])
	res = reg.Dispatch(ctx, "get_recommended_workflow", json.RawMessage(`{"task_type":"brief"}`))
	assert.Equal(t, false, res["found"])

	res = reg.Dispatch(ctx, "record_observation", json.RawMessage(`{"task_description":"memo","outcome":"meh"}`))
	assert.False(t, res.Succeeded())
	assert.Equal(t, "validation", res["error_kind"])

	res = reg.Dispatch(ctx, "record_user_behavior", json.RawMessage(`{"trigger":"deadline","action":"calendar it"}`))
	require.True(t, res.Succeeded(), res.String())
	res = reg.Dispatch(ctx, "get_user_typical_action", json.RawMessage(`{"context":"deadline"}`))
	assert.Len(t, res["typical_actions"], 1)
}
