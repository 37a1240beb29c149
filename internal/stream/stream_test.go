package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type recordSink struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Deliver(ctx context.Context, taskID string, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return s.err
}

func (s *recordSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b.Events...)
	}
	return out
}

func TestType_Defaults(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "rocket", TaskStart.Icon())
	assert.Equal(t, "green", TaskComplete.Color())
	assert.Equal(t, "circle", ThoughtUpdate.Icon())
	assert.Equal(t, "default", ProgressUpdate.Color())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, ArtifactComplete.Terminal())
	assert.False(t, ToolStart.Terminal())
}

func TestEmitter_TerminalDeliveredWithoutLoop(t *testing.T) {
	t.Parallel()
	sink := &recordSink{}
	e := NewEmitter("task_1", sink)
	e.ToolStarted("read_file", "notes.txt")
	assert.Empty(t, sink.events(), "non-terminal events wait for a flush")

	e.TaskCompleted("done", nil)
	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
	e.Stop()
	evs := sink.events()
	require.Len(t, evs, 2)
	assert.Equal(t, ToolStart, evs[0].Type)
	assert.Equal(t, "Reading notes.txt...", evs[0].Message)
	assert.Equal(t, TaskComplete, evs[1].Type)
	assert.NotEmpty(t, evs[1].ID)
	assert.Equal(t, "task_1", evs[1].TaskID)

	sink.mu.Lock()
	last := sink.batches[len(sink.batches)-1]
	sink.mu.Unlock()
	assert.Equal(t, "completed", last.Progress.Status)
	assert.Equal(t, 100, last.Progress.ProgressPercent)
}

// gateSink blocks every delivery until release is closed.
type gateSink struct {
	recordSink
	release chan struct{}
}

func (s *gateSink) Deliver(ctx context.Context, taskID string, b Batch) error {
	<-s.release
	return s.recordSink.Deliver(ctx, taskID, b)
}

func TestEmitter_TerminalNeverBlocksOnSlowSink(t *testing.T) {
	t.Parallel()
	sink := &gateSink{release: make(chan struct{})}
	e := NewEmitter("task_slow", sink)

	returned := make(chan struct{})
	go func() {
		e.TaskFailed("backend slow")
		e.Emit(Log, "after failure", nil)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}
	assert.Empty(t, sink.events())

	close(sink.release)
	e.Stop()
	evs := sink.events()
	require.Len(t, evs, 2)
	assert.Equal(t, TaskFailed, evs[0].Type)
	assert.Equal(t, Log, evs[1].Type)
}

func TestEmitter_BackgroundFlush(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter("task_2", sink, WithFlushInterval(5*time.Millisecond))
	e.Start()
	defer e.Stop()

	e.Thinking("")
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Thinking...", sink.events()[0].Message)
}

func TestEmitter_TerminalWakesLoop(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter("task_3", sink, WithFlushInterval(time.Hour))
	e.Start()
	e.TaskFailed("max_iterations reached")
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
	e.Stop()
	e.Stop()
}

func TestEmitter_StopFlushesRemainder(t *testing.T) {
	sink := &recordSink{}
	e := NewEmitter("task_4", sink, WithFlushInterval(time.Hour))
	e.Start()
	e.Warn("five minutes left", nil)
	e.Stop()
	require.Len(t, sink.events(), 1)
	assert.Equal(t, Warning, sink.events()[0].Type)
}

func TestEmitter_DeliveryFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	sink := &recordSink{err: errors.New("backend down")}
	e := NewEmitter("task_5", sink)
	assert.NotPanics(t, func() { e.Fail("boom", "stack") })
	e.Stop()
	assert.Len(t, e.History(time.Time{}), 1)
}

func TestEmitter_HistoryRingAndSince(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	e := NewEmitter("task_6", nil, WithHistory(3), WithClock(clock))
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		e.Emit(Log, string(rune('a'+i)), nil)
	}
	h := e.History(time.Time{})
	require.Len(t, h, 3)
	assert.Equal(t, []string{"c", "d", "e"}, []string{h[0].Message, h[1].Message, h[2].Message})

	since := e.History(h[1].Timestamp)
	require.Len(t, since, 1)
	assert.Equal(t, "e", since[0].Message)
}

func TestEmitter_ProgressFromIRACPhases(t *testing.T) {
	t.Parallel()
	e := NewEmitter("task_7", nil)
	e.TaskStarted("draft a memo")
	want := map[string]int{"issue": 20, "rule": 40, "analysis": 60, "conclusion": 80, "critique": 90}
	for _, phase := range []string{"issue", "rule", "analysis", "conclusion", "critique"} {
		e.IRACPhase(phase, "text")
		p := e.Progress()
		assert.Equal(t, want[phase], p.ProgressPercent, phase)
		assert.Equal(t, phase, p.IRACPhase)
	}
	// A late re-recorded phase does not move progress backwards.
	e.IRACPhase("issue", "")
	assert.Equal(t, 90, e.Progress().ProgressPercent)

	h := e.History(time.Time{})
	assert.Equal(t, IRACIssue, h[len(h)-1].Type)
	assert.Equal(t, "IRAC ISSUE", h[len(h)-1].Message)

	e.UpdateProgress(140, "running", "finalizing")
	assert.Equal(t, 100, e.Progress().ProgressPercent)
	e.TaskCompleted("ok", []string{"output/memo.md"})
	assert.Equal(t, "completed", e.Progress().Status)
}

func TestEmitter_ArtifactPreviewClipped(t *testing.T) {
	t.Parallel()
	e := NewEmitter("task_8", nil)
	e.ArtifactStarted("Memo", "")
	long := make([]rune, 900)
	for i := range long {
		long[i] = 'x'
	}
	e.ArtifactUpdated("Memo", string(long))
	p := e.Progress()
	assert.Equal(t, "Memo", p.CurrentArtifact)
	assert.Len(t, p.ArtifactPreview, previewLimit)
}

func TestEmitter_StepProgress(t *testing.T) {
	t.Parallel()
	e := NewEmitter("task_9", nil)
	e.PlanUpdated([]string{"research", "draft", "review", "file"}, 0)
	e.StepStarted(1, "research")
	e.StepCompleted(1, "found 3 cases")
	p := e.Progress()
	assert.Equal(t, 4, p.TotalSteps)
	assert.Equal(t, 1, p.CompletedSteps)
	assert.Equal(t, 25, p.ProgressPercent)
}

func TestHTTPSink_PostsBatch(t *testing.T) {
	var (
		path string
		got  Batch
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := &HTTPSink{BaseURL: srv.URL + "/api/v1/background-agent/", Token: "tok", HTTPClient: srv.Client()}
	e := NewEmitter("task_10", s)
	e.TaskCompleted("done", []string{"a.md"})
	e.Stop()

	assert.Equal(t, "/api/v1/background-agent/stream/task_10/events", path)
	assert.Equal(t, "Bearer tok", auth)
	require.Len(t, got.Events, 1)
	assert.Equal(t, TaskComplete, got.Events[0].Type)
	assert.Equal(t, "task_10", got.Progress.TaskID)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	s := &HTTPSink{BaseURL: srv.URL, HTTPClient: srv.Client()}
	err := s.Deliver(context.Background(), "t", Batch{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type pubRecorder struct {
	mu  sync.Mutex
	got []any
}

func (p *pubRecorder) PublishJSON(v any) {
	p.mu.Lock()
	p.got = append(p.got, v)
	p.mu.Unlock()
}

func TestFanOut_DeliversToAllDespiteFailure(t *testing.T) {
	t.Parallel()
	bad := &recordSink{err: errors.New("nope")}
	pub := &pubRecorder{}
	f := FanOut{bad, PublishSink{P: pub}}
	err := f.Deliver(context.Background(), "t", Batch{Events: []Event{{Type: Log}, {Type: Warning}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record: nope")
	assert.Len(t, pub.got, 3, "two events and a progress snapshot")
}
