package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"researchdesk/internal/scoring"
)

const runColumns = `id, page_agent_id, section_agent_id, section_id, batch_id, status,
  started_at, completed_at, output, error, created_at`

func scanRun(row interface {
	Scan(dest ...interface{}) error
}) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.PageAgentID, &r.SectionAgentID, &r.SectionID, &r.BatchID,
		&r.Status, &r.StartedAt, &r.CompletedAt, &r.Output, &r.Error, &r.CreatedAt)
	return r, err
}

// EnqueueRun inserts one Queued run for an attachment. Section runs carry the
// denormalized section id used later for scoring.
func (s *Store) EnqueueRun(ctx context.Context, attachmentID int64, kind AttachmentKind, sectionID *int64, batchID *string) (int64, error) {
	var pageAgentID, sectionAgentID interface{}
	switch kind {
	case AttachmentPage:
		pageAgentID = attachmentID
	case AttachmentSection:
		sectionAgentID = attachmentID
	default:
		return 0, fmt.Errorf("unknown attachment kind %q", kind)
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO agent_runs (page_agent_id, section_agent_id, section_id, batch_id, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		pageAgentID, sectionAgentID, sectionIDValue(sectionID), batchIDValue(batchID), RunStatusQueued).Scan(&id)
	return id, err
}

// GetOldestQueuedRun returns the single oldest Queued run, FIFO by id.
func (s *Store) GetOldestQueuedRun(ctx context.Context) (Run, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+runColumns+` FROM agent_runs WHERE status=$1 ORDER BY id LIMIT 1`, RunStatusQueued)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

// MarkRunRunning is the claim operation: it persists the Running status and
// started_at before any external work happens, so a crash mid-run leaves the
// run visibly Running rather than silently requeued.
func (s *Store) MarkRunRunning(ctx context.Context, runID int64, startedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE agent_runs SET status=$2, started_at=$3 WHERE id=$1`, runID, RunStatusRunning, startedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FinishRun writes a terminal status plus output/error and updates the
// owning attachment's denormalized last-run fields in the same transaction.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE agent_runs SET status=$2, completed_at=$3, output=$4, error=$5 WHERE id=$1`,
		r.ID, r.Status, r.CompletedAt, r.Output, r.Error); err != nil {
		return fmt.Errorf("update run %d: %w", r.ID, err)
	}

	if r.PageAgentID != nil {
		if _, err := tx.ExecContext(ctx, `
UPDATE page_agents SET last_run_status=$2, last_run_at=$3 WHERE id=$1`,
			*r.PageAgentID, r.Status, r.CompletedAt); err != nil {
			return fmt.Errorf("update page agent %d: %w", *r.PageAgentID, err)
		}
	} else if r.SectionAgentID != nil {
		if _, err := tx.ExecContext(ctx, `
UPDATE section_agents SET last_run_status=$2, last_run_at=$3 WHERE id=$1`,
			*r.SectionAgentID, r.Status, r.CompletedAt); err != nil {
			return fmt.Errorf("update section agent %d: %w", *r.SectionAgentID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetRun(ctx context.Context, runID int64) (Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE id=$1`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRunsForAttachment returns all runs for one attachment, newest first.
func (s *Store) ListRunsForAttachment(ctx context.Context, attachmentID int64, kind AttachmentKind) ([]Run, error) {
	col := attachmentColumn(kind)
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+runColumns+` FROM agent_runs WHERE `+col+`=$1 ORDER BY id DESC`, attachmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListSucceededRunsForAttachment returns Succeeded runs for one attachment
// ordered by completion time descending. The retention trimmer consumes this.
func (s *Store) ListSucceededRunsForAttachment(ctx context.Context, attachmentID int64, kind AttachmentKind) ([]Run, error) {
	col := attachmentColumn(kind)
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+runColumns+` FROM agent_runs
WHERE `+col+`=$1 AND status=$2
ORDER BY completed_at DESC`, attachmentID, RunStatusSucceeded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *Store) DeleteRuns(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM agent_runs WHERE id = ANY($1)`, int64Array(ids))
	return err
}

// LatestSucceededOutput returns the newest Succeeded run output (non-null
// only) for a section agent; ok is false when none exists.
func (s *Store) LatestSucceededOutput(ctx context.Context, sectionAgentID int64) (string, bool, error) {
	var output string
	err := s.DB.QueryRowContext(ctx, `
SELECT output FROM agent_runs
WHERE section_agent_id=$1 AND status=$2 AND output IS NOT NULL
ORDER BY completed_at DESC LIMIT 1`, sectionAgentID, RunStatusSucceeded).Scan(&output)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return output, true, nil
}

// Score writes

func (s *Store) UpdateSectionScores(ctx context.Context, sectionID int64, p *scoring.Pair) error {
	fund, conv := pairValues(p)
	_, err := s.DB.ExecContext(ctx, `
UPDATE sections SET fundamental_score=$2, conviction_score=$3 WHERE id=$1`, sectionID, fund, conv)
	return err
}

func (s *Store) UpdatePageScores(ctx context.Context, pageID int64, p *scoring.Pair) error {
	fund, conv := pairValues(p)
	_, err := s.DB.ExecContext(ctx, `
UPDATE research_pages SET fundamental_score=$2, conviction_score=$3, last_updated=NOW() WHERE id=$1`, pageID, fund, conv)
	return err
}

func (s *Store) ListSectionScorePairs(ctx context.Context, pageID int64) ([]*scoring.Pair, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT fundamental_score, conviction_score FROM sections
WHERE research_page_id=$1 AND NOT is_deleted ORDER BY id`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*scoring.Pair
	for rows.Next() {
		var fund, conv sql.NullInt64
		if err := rows.Scan(&fund, &conv); err != nil {
			return nil, err
		}
		if fund.Valid && conv.Valid {
			out = append(out, &scoring.Pair{Fundamental: int(fund.Int64), Conviction: int(conv.Int64)})
		} else {
			out = append(out, nil)
		}
	}
	return out, rows.Err()
}

func attachmentColumn(kind AttachmentKind) string {
	if kind == AttachmentSection {
		return "section_agent_id"
	}
	return "page_agent_id"
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func pairValues(p *scoring.Pair) (interface{}, interface{}) {
	if p == nil {
		return nil, nil
	}
	return p.Fundamental, p.Conviction
}

func sectionIDValue(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func batchIDValue(id *string) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
