package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"go.uber.org/goleak"

	"researchdesk/internal/scoring"
	"researchdesk/internal/store"
)

type stubStore struct {
	queued        []store.Run
	finished      []store.Run
	succeeded     []store.Run
	deleted       []int64
	pageAgents    map[int64]store.Attachment
	sectionAgents map[int64]store.Attachment
	agents        map[int64]store.AgentConfig
	sectionPages  map[int64]int64
	subjects      map[int64]store.Subject
}

func (s *stubStore) GetOldestQueuedRun(context.Context) (store.Run, bool, error) {
	if len(s.queued) == 0 {
		return store.Run{}, false, nil
	}
	return s.queued[0], true, nil
}

func (s *stubStore) MarkRunRunning(_ context.Context, runID int64, _ time.Time) error {
	if len(s.queued) == 0 || s.queued[0].ID != runID {
		return fmt.Errorf("run %d is not at the head of the queue", runID)
	}
	s.queued = s.queued[1:]
	return nil
}

func (s *stubStore) FinishRun(_ context.Context, r store.Run) error {
	s.finished = append(s.finished, r)
	return nil
}

func (s *stubStore) ListSucceededRunsForAttachment(context.Context, int64, store.AttachmentKind) ([]store.Run, error) {
	return s.succeeded, nil
}

func (s *stubStore) DeleteRuns(_ context.Context, ids []int64) error {
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *stubStore) GetPageAgent(_ context.Context, id int64) (store.Attachment, error) {
	att, ok := s.pageAgents[id]
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	return att, nil
}

func (s *stubStore) GetSectionAgent(_ context.Context, id int64) (store.Attachment, error) {
	att, ok := s.sectionAgents[id]
	if !ok {
		return store.Attachment{}, store.ErrNotFound
	}
	return att, nil
}

func (s *stubStore) GetAgentConfig(_ context.Context, agentID int64) (store.AgentConfig, error) {
	agent, ok := s.agents[agentID]
	if !ok {
		return store.AgentConfig{}, store.ErrNotFound
	}
	return agent, nil
}

func (s *stubStore) GetSectionPageID(_ context.Context, sectionID int64) (int64, error) {
	pageID, ok := s.sectionPages[sectionID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return pageID, nil
}

func (s *stubStore) GetPageSubject(_ context.Context, pageID int64) (store.Subject, error) {
	subj, ok := s.subjects[pageID]
	if !ok {
		return store.Subject{}, store.ErrNotFound
	}
	return subj, nil
}

type stubExec struct {
	result   Result
	calls    int
	gotAgent store.AgentConfig
	gotSubj  store.Subject
}

func (e *stubExec) Execute(_ context.Context, agent store.AgentConfig, subj store.Subject) Result {
	e.calls++
	e.gotAgent = agent
	e.gotSubj = subj
	return e.result
}

type stubScorer struct {
	sections []int64
	err      error
}

func (s *stubScorer) RecalculateSection(_ context.Context, sectionID int64) (*scoring.Pair, error) {
	s.sections = append(s.sections, sectionID)
	return nil, s.err
}

func ptrI64(v int64) *int64   { return &v }
func ptrStr(v string) *string { return &v }

func newTestRunner(st *stubStore, exec ExecutorAPI, scorer SectionScorer) *Runner {
	return NewRunner(log.New(io.Discard, "", 0), st, exec, scorer, 10*time.Millisecond, nil, nil)
}

func TestPollOnceEmptyQueue(t *testing.T) {
	r := newTestRunner(&stubStore{}, &stubExec{}, &stubScorer{})
	processed, err := r.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if processed {
		t.Fatal("nothing was queued, PollOnce should report idle")
	}
}

func TestPollOnceSectionRunSuccess(t *testing.T) {
	st := &stubStore{
		queued: []store.Run{{ID: 10, SectionAgentID: ptrI64(7), SectionID: ptrI64(3), Status: store.RunStatusQueued}},
		sectionAgents: map[int64]store.Attachment{
			7: {ID: 7, Kind: store.AttachmentSection, SectionID: 3, AgentID: 42},
		},
		agents:       map[int64]store.AgentConfig{42: {ID: 42, EndpointURL: "http://example.com/{{ticker}}"}},
		sectionPages: map[int64]int64{3: 99},
		subjects:     map[int64]store.Subject{99: {Ticker: "AAPL", FIGI: "BBG000B9XRY4", Name: "Apple Inc"}},
	}
	exec := &stubExec{result: Result{
		Success: true,
		Output:  ptrStr("{FundamentalScore: 1, ConvictionScore: 5}\nBUY"),
	}}
	scorer := &stubScorer{}
	r := newTestRunner(st, exec, scorer)

	processed, err := r.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if !processed {
		t.Fatal("expected a run to be processed")
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d", exec.calls)
	}
	if exec.gotAgent.ID != 42 {
		t.Fatalf("executor agent id = %d", exec.gotAgent.ID)
	}
	if exec.gotSubj.Ticker != "AAPL" {
		t.Fatalf("executor subject = %+v", exec.gotSubj)
	}
	if len(st.finished) != 1 {
		t.Fatalf("finished runs = %d", len(st.finished))
	}
	got := st.finished[0]
	if got.Status != store.RunStatusSucceeded {
		t.Fatalf("status = %q", got.Status)
	}
	if got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatal("timestamps not set on terminal run")
	}
	if len(scorer.sections) != 1 || scorer.sections[0] != 3 {
		t.Fatalf("scorer sections = %v", scorer.sections)
	}
}

func TestPollOncePageRunSkipsScoring(t *testing.T) {
	st := &stubStore{
		queued: []store.Run{{ID: 11, PageAgentID: ptrI64(4), Status: store.RunStatusQueued}},
		pageAgents: map[int64]store.Attachment{
			4: {ID: 4, Kind: store.AttachmentPage, PageID: 99, AgentID: 42},
		},
		agents:   map[int64]store.AgentConfig{42: {ID: 42}},
		subjects: map[int64]store.Subject{99: {Ticker: "IBM"}},
	}
	exec := &stubExec{result: Result{Success: true, Output: ptrStr("{FundamentalScore: 2, ConvictionScore: 2}")}}
	scorer := &stubScorer{}
	r := newTestRunner(st, exec, scorer)

	if _, err := r.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(scorer.sections) != 0 {
		t.Fatalf("page runs must not trigger section scoring; got %v", scorer.sections)
	}
	if st.finished[0].Status != store.RunStatusSucceeded {
		t.Fatalf("status = %q", st.finished[0].Status)
	}
}

func TestPollOnceFailedRun(t *testing.T) {
	st := &stubStore{
		queued: []store.Run{{ID: 12, SectionAgentID: ptrI64(7), SectionID: ptrI64(3), Status: store.RunStatusQueued}},
		sectionAgents: map[int64]store.Attachment{
			7: {ID: 7, Kind: store.AttachmentSection, SectionID: 3, AgentID: 42},
		},
		agents:       map[int64]store.AgentConfig{42: {ID: 42}},
		sectionPages: map[int64]int64{3: 99},
		subjects:     map[int64]store.Subject{99: {}},
		succeeded:    []store.Run{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}},
	}
	exec := &stubExec{result: Result{
		Success: false,
		Output:  ptrStr("server error"),
		Error:   ptrStr("endpoint returned non-success status 500"),
	}}
	scorer := &stubScorer{}
	r := newTestRunner(st, exec, scorer)

	if _, err := r.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	got := st.finished[0]
	if got.Status != store.RunStatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Output == nil || *got.Output != "server error" {
		t.Fatalf("failed run should keep the raw body, got %v", got.Output)
	}
	if len(scorer.sections) != 0 {
		t.Fatal("failed runs must not trigger scoring")
	}
	if len(st.deleted) != 0 {
		t.Fatal("failed runs must not trigger retention trimming")
	}
}

func TestPollOnceRunWithoutAttachment(t *testing.T) {
	st := &stubStore{queued: []store.Run{{ID: 13, Status: store.RunStatusQueued}}}
	exec := &stubExec{}
	r := newTestRunner(st, exec, &stubScorer{})

	if _, err := r.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if exec.calls != 0 {
		t.Fatal("executor must not run without an attachment")
	}
	got := st.finished[0]
	if got.Status != store.RunStatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Error == nil || *got.Error != "run has no attachment" {
		t.Fatalf("error = %v", got.Error)
	}
}

func TestPollOnceMissingAgentConfig(t *testing.T) {
	st := &stubStore{
		queued:     []store.Run{{ID: 14, PageAgentID: ptrI64(4), Status: store.RunStatusQueued}},
		pageAgents: map[int64]store.Attachment{4: {ID: 4, Kind: store.AttachmentPage, PageID: 99, AgentID: 42}},
		agents:     map[int64]store.AgentConfig{},
	}
	r := newTestRunner(st, &stubExec{}, &stubScorer{})

	if _, err := r.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if st.finished[0].Status != store.RunStatusFailed {
		t.Fatalf("status = %q", st.finished[0].Status)
	}
}

func TestScoreExtractionMissSkipsScoring(t *testing.T) {
	st := &stubStore{
		queued: []store.Run{{ID: 15, SectionAgentID: ptrI64(7), SectionID: ptrI64(3), Status: store.RunStatusQueued}},
		sectionAgents: map[int64]store.Attachment{
			7: {ID: 7, Kind: store.AttachmentSection, SectionID: 3, AgentID: 42},
		},
		agents:       map[int64]store.AgentConfig{42: {ID: 42}},
		sectionPages: map[int64]int64{3: 99},
		subjects:     map[int64]store.Subject{99: {}},
	}
	exec := &stubExec{result: Result{Success: true, Output: ptrStr("the model ignored the directive")}}
	scorer := &stubScorer{}
	r := newTestRunner(st, exec, scorer)

	if _, err := r.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if st.finished[0].Status != store.RunStatusSucceeded {
		t.Fatalf("status = %q; missing scores must not fail the run", st.finished[0].Status)
	}
	if len(scorer.sections) != 0 {
		t.Fatalf("scorer sections = %v", scorer.sections)
	}
}

func TestTrimRetentionKeepsNewestThree(t *testing.T) {
	st := &stubStore{succeeded: []store.Run{
		{ID: 60}, {ID: 59}, {ID: 58}, {ID: 57}, {ID: 56}, {ID: 55},
	}}
	r := newTestRunner(st, &stubExec{}, &stubScorer{})

	if err := r.trimRetention(context.Background(), 1, store.AttachmentSection); err != nil {
		t.Fatalf("trimRetention: %v", err)
	}
	want := []int64{57, 56, 55}
	if len(st.deleted) != len(want) {
		t.Fatalf("deleted = %v, want %v", st.deleted, want)
	}
	for i, id := range want {
		if st.deleted[i] != id {
			t.Fatalf("deleted = %v, want %v", st.deleted, want)
		}
	}
}

func TestTrimRetentionUnderLimit(t *testing.T) {
	st := &stubStore{succeeded: []store.Run{{ID: 3}, {ID: 2}, {ID: 1}}}
	r := newTestRunner(st, &stubExec{}, &stubScorer{})

	if err := r.trimRetention(context.Background(), 1, store.AttachmentSection); err != nil {
		t.Fatalf("trimRetention: %v", err)
	}
	if len(st.deleted) != 0 {
		t.Fatalf("deleted = %v, want none", st.deleted)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := newTestRunner(&stubStore{}, &stubExec{}, &stubScorer{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not stop after cancellation")
	}
}
