package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return &Store{DB: db}, mock
}

func TestEnqueueRunPageAttachment(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO agent_runs`).
		WithArgs(int64(5), nil, nil, nil, RunStatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))

	id, err := s.EnqueueRun(context.Background(), 5, AttachmentPage, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != 101 {
		t.Fatalf("run id = %d, want 101", id)
	}
}

func TestEnqueueRunSectionAttachmentCarriesSectionAndBatch(t *testing.T) {
	s, mock := newMockStore(t)
	sectionID := int64(30)
	batch := "b-123"
	mock.ExpectQuery(`INSERT INTO agent_runs`).
		WithArgs(nil, int64(7), sectionID, batch, RunStatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(102)))

	id, err := s.EnqueueRun(context.Background(), 7, AttachmentSection, &sectionID, &batch)
	if err != nil {
		t.Fatal(err)
	}
	if id != 102 {
		t.Fatalf("run id = %d, want 102", id)
	}
}

func TestEnqueueRunRejectsUnknownKind(t *testing.T) {
	s, _ := newMockStore(t)
	if _, err := s.EnqueueRun(context.Background(), 7, AttachmentKind("bogus"), nil, nil); err == nil {
		t.Fatal("expected an error for unknown attachment kind")
	}
}

func runRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "page_agent_id", "section_agent_id", "section_id", "batch_id", "status",
		"started_at", "completed_at", "output", "error", "created_at",
	})
}

func TestGetOldestQueuedRun(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Now()
	mock.ExpectQuery(`FROM agent_runs WHERE status=\$1 ORDER BY id LIMIT 1`).
		WithArgs(RunStatusQueued).
		WillReturnRows(runRows().AddRow(
			int64(11), int64(5), nil, nil, nil, RunStatusQueued, nil, nil, nil, nil, created))

	r, ok, err := s.GetOldestQueuedRun(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a queued run")
	}
	if r.ID != 11 || r.PageAgentID == nil || *r.PageAgentID != 5 {
		t.Fatalf("unexpected run: %+v", r)
	}
}

func TestGetOldestQueuedRunEmptyQueue(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM agent_runs WHERE status=\$1 ORDER BY id LIMIT 1`).
		WithArgs(RunStatusQueued).
		WillReturnRows(runRows())

	_, ok, err := s.GetOldestQueuedRun(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("did not expect a run from an empty queue")
	}
}

func TestMarkRunRunning(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Now()
	mock.ExpectExec(`UPDATE agent_runs SET status=\$2, started_at=\$3 WHERE id=\$1`).
		WithArgs(int64(11), RunStatusRunning, started).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkRunRunning(context.Background(), 11, started); err != nil {
		t.Fatal(err)
	}
}

func TestMarkRunRunningMissingRun(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Now()
	mock.ExpectExec(`UPDATE agent_runs SET status=\$2, started_at=\$3 WHERE id=\$1`).
		WithArgs(int64(99), RunStatusRunning, started).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.MarkRunRunning(context.Background(), 99, started); err == nil {
		t.Fatal("expected an error for a missing run")
	}
}

func TestFinishRunUpdatesSectionAttachment(t *testing.T) {
	s, mock := newMockStore(t)
	said := int64(7)
	done := time.Now()
	out := "analysis"

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE agent_runs SET status=\$2, completed_at=\$3, output=\$4, error=\$5 WHERE id=\$1`).
		WithArgs(int64(11), RunStatusSucceeded, &done, &out, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE section_agents SET last_run_status=\$2, last_run_at=\$3 WHERE id=\$1`).
		WithArgs(said, RunStatusSucceeded, &done).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.FinishRun(context.Background(), Run{
		ID:             11,
		SectionAgentID: &said,
		Status:         RunStatusSucceeded,
		CompletedAt:    &done,
		Output:         &out,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestListSucceededRunsForAttachment(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`WHERE section_agent_id=\$1 AND status=\$2`).
		WithArgs(int64(7), RunStatusSucceeded).
		WillReturnRows(runRows().
			AddRow(int64(22), nil, int64(7), nil, nil, RunStatusSucceeded, nil, now, "new", nil, now).
			AddRow(int64(21), nil, int64(7), nil, nil, RunStatusSucceeded, nil, now.Add(-time.Hour), "old", nil, now))

	runs, err := s.ListSucceededRunsForAttachment(context.Background(), 7, AttachmentSection)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != 22 || runs[1].ID != 21 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestDeleteRunsNoIDsIsNoop(t *testing.T) {
	s, _ := newMockStore(t)
	if err := s.DeleteRuns(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestLatestSucceededOutputMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT output FROM agent_runs`).
		WithArgs(int64(7), RunStatusSucceeded).
		WillReturnRows(sqlmock.NewRows([]string{"output"}))

	_, ok, err := s.LatestSucceededOutput(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no output for an attachment without succeeded runs")
	}
}
