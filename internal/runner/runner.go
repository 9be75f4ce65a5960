package runner

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"researchdesk/internal/scoring"
	"researchdesk/internal/store"
)

// retentionKeep is how many succeeded runs survive per attachment after each
// successful run. Failed runs are never trimmed.
const retentionKeep = 3

// StoreAPI captures the store methods required by the run consumer.
type StoreAPI interface {
	GetOldestQueuedRun(ctx context.Context) (store.Run, bool, error)
	MarkRunRunning(ctx context.Context, runID int64, startedAt time.Time) error
	FinishRun(ctx context.Context, r store.Run) error
	ListSucceededRunsForAttachment(ctx context.Context, attachmentID int64, kind store.AttachmentKind) ([]store.Run, error)
	DeleteRuns(ctx context.Context, ids []int64) error
	GetPageAgent(ctx context.Context, id int64) (store.Attachment, error)
	GetSectionAgent(ctx context.Context, id int64) (store.Attachment, error)
	GetAgentConfig(ctx context.Context, agentID int64) (store.AgentConfig, error)
	GetSectionPageID(ctx context.Context, sectionID int64) (int64, error)
	GetPageSubject(ctx context.Context, pageID int64) (store.Subject, error)
}

// ExecutorAPI is the pipeline invoked for each claimed run.
type ExecutorAPI interface {
	Execute(ctx context.Context, agent store.AgentConfig, subj store.Subject) Result
}

// SectionScorer recomputes a section's aggregate after a successful section run.
type SectionScorer interface {
	RecalculateSection(ctx context.Context, sectionID int64) (*scoring.Pair, error)
}

// Runner is the queue consumer: it claims the oldest queued run, drives it
// through the executor to a terminal state, trims retention, and triggers the
// score aggregation for section runs. One run at a time, oldest first.
type Runner struct {
	logger       *log.Logger
	store        StoreAPI
	exec         ExecutorAPI
	scorer       SectionScorer
	pollInterval time.Duration
	tracer       trace.Tracer
	runCounter   otelmetric.Int64Counter
	failCounter  otelmetric.Int64Counter
}

// NewRunner constructs a Runner. meter and tracer may be nil; metrics and
// spans degrade to no-ops.
func NewRunner(logger *log.Logger, st StoreAPI, exec ExecutorAPI, scorer SectionScorer, pollInterval time.Duration, meter otelmetric.Meter, tracer trace.Tracer) *Runner {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("runner")
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	r := &Runner{
		logger:       logger,
		store:        st,
		exec:         exec,
		scorer:       scorer,
		pollInterval: pollInterval,
		tracer:       tracer,
	}
	if meter != nil {
		var err error
		r.runCounter, err = meter.Int64Counter("runner_runs_processed")
		if err != nil {
			logger.Printf("warn: create run counter failed: %v", err)
		}
		r.failCounter, err = meter.Int64Counter("runner_runs_failed")
		if err != nil {
			logger.Printf("warn: create fail counter failed: %v", err)
		}
	}
	return r
}

// Start blocks, draining the queue until the context is cancelled. An empty
// queue or a poll error sleeps one interval before the next attempt; a bad
// run never stops the loop.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Printf("run consumer starting; poll interval %s", r.pollInterval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Printf("run consumer stopping: %v", ctx.Err())
			return nil
		default:
		}

		processed, err := r.PollOnce(ctx)
		if err != nil {
			r.logger.Printf("error polling queue: %v", err)
			r.sleep(ctx)
			continue
		}
		if !processed {
			r.sleep(ctx)
		}
	}
}

func (r *Runner) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.pollInterval):
	}
}

// PollOnce claims and processes at most one queued run. It reports whether a
// run was claimed; the error covers queue access only, since run-level
// failures are folded into the run's terminal state.
func (r *Runner) PollOnce(ctx context.Context) (bool, error) {
	run, ok, err := r.store.GetOldestQueuedRun(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch queued run: %w", err)
	}
	if !ok {
		return false, nil
	}

	started := time.Now().UTC()
	if err := r.store.MarkRunRunning(ctx, run.ID, started); err != nil {
		return false, fmt.Errorf("claim run %d: %w", run.ID, err)
	}
	run.Status = store.RunStatusRunning
	run.StartedAt = &started

	r.process(ctx, &run)
	return true, nil
}

func (r *Runner) process(ctx context.Context, run *store.Run) {
	ctx, span := r.tracer.Start(ctx, "runner.process_run")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("panic processing run %d: %v", run.ID, rec)
			r.failRun(ctx, run, fmt.Sprintf("panic: %v\n%s", rec, debug.Stack()))
		}
	}()

	if r.runCounter != nil {
		r.runCounter.Add(ctx, 1)
	}
	r.logger.Printf("processing run %d", run.ID)

	attachmentID, kind, ok := run.AttachmentID()
	if !ok {
		r.failRun(ctx, run, "run has no attachment")
		return
	}

	agent, subj, err := r.resolve(ctx, attachmentID, kind)
	if err != nil {
		r.failRun(ctx, run, err.Error())
		return
	}

	result := r.exec.Execute(ctx, agent, subj)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Output = result.Output
	run.Error = result.Error
	if result.Success {
		run.Status = store.RunStatusSucceeded
	} else {
		run.Status = store.RunStatusFailed
	}
	if err := r.store.FinishRun(ctx, *run); err != nil {
		r.logger.Printf("error persisting run %d result: %v", run.ID, err)
		return
	}

	if !result.Success {
		if r.failCounter != nil {
			r.failCounter.Add(ctx, 1)
		}
		r.logger.Printf("run %d failed", run.ID)
		return
	}
	r.logger.Printf("run %d succeeded", run.ID)

	if err := r.trimRetention(ctx, attachmentID, kind); err != nil {
		r.logger.Printf("warn: retention trim for attachment %d failed: %v", attachmentID, err)
	}

	if kind == store.AttachmentSection && run.SectionID != nil && run.Output != nil {
		if _, ok := scoring.Extract(*run.Output); !ok {
			r.logger.Printf("run %d output contains no score line; section %d scores unchanged", run.ID, *run.SectionID)
			return
		}
		if _, err := r.scorer.RecalculateSection(ctx, *run.SectionID); err != nil {
			r.logger.Printf("warn: recalculate section %d failed: %v", *run.SectionID, err)
		}
	}
}

// resolve loads the agent config and template subject for an attachment.
// Any missing row here is a terminal configuration error for the run.
func (r *Runner) resolve(ctx context.Context, attachmentID int64, kind store.AttachmentKind) (store.AgentConfig, store.Subject, error) {
	var att store.Attachment
	var err error
	switch kind {
	case store.AttachmentPage:
		att, err = r.store.GetPageAgent(ctx, attachmentID)
	case store.AttachmentSection:
		att, err = r.store.GetSectionAgent(ctx, attachmentID)
	default:
		err = fmt.Errorf("unknown attachment kind %q", kind)
	}
	if err != nil {
		return store.AgentConfig{}, store.Subject{}, fmt.Errorf("load attachment %d: %w", attachmentID, err)
	}

	agent, err := r.store.GetAgentConfig(ctx, att.AgentID)
	if err != nil {
		return store.AgentConfig{}, store.Subject{}, fmt.Errorf("load agent %d: %w", att.AgentID, err)
	}

	pageID := att.PageID
	if kind == store.AttachmentSection {
		pageID, err = r.store.GetSectionPageID(ctx, att.SectionID)
		if err != nil {
			return store.AgentConfig{}, store.Subject{}, fmt.Errorf("resolve page for section %d: %w", att.SectionID, err)
		}
	}
	subj, err := r.store.GetPageSubject(ctx, pageID)
	if err != nil {
		return store.AgentConfig{}, store.Subject{}, fmt.Errorf("load subject for page %d: %w", pageID, err)
	}
	return agent, subj, nil
}

func (r *Runner) failRun(ctx context.Context, run *store.Run, msg string) {
	completed := time.Now().UTC()
	run.Status = store.RunStatusFailed
	run.CompletedAt = &completed
	run.Error = &msg
	if err := r.store.FinishRun(ctx, *run); err != nil {
		r.logger.Printf("error persisting failed run %d: %v", run.ID, err)
	}
	if r.failCounter != nil {
		r.failCounter.Add(ctx, 1)
	}
}

// trimRetention keeps only the newest succeeded runs for the attachment.
func (r *Runner) trimRetention(ctx context.Context, attachmentID int64, kind store.AttachmentKind) error {
	runs, err := r.store.ListSucceededRunsForAttachment(ctx, attachmentID, kind)
	if err != nil {
		return err
	}
	if len(runs) <= retentionKeep {
		return nil
	}
	stale := make([]int64, 0, len(runs)-retentionKeep)
	for _, old := range runs[retentionKeep:] {
		stale = append(stale, old.ID)
	}
	return r.store.DeleteRuns(ctx, stale)
}
