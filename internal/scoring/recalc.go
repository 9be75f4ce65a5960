package scoring

import (
	"context"
	"fmt"
	"log"
)

// Store captures the persistence methods the recalculator needs. The concrete
// implementation lives in internal/store; tests stub it.
type Store interface {
	ListSectionIDs(ctx context.Context, pageID int64) ([]int64, error)
	ListSectionAgentIDs(ctx context.Context, sectionID int64) ([]int64, error)
	LatestSucceededOutput(ctx context.Context, sectionAgentID int64) (string, bool, error)
	UpdateSectionScores(ctx context.Context, sectionID int64, p *Pair) error
	ListSectionScorePairs(ctx context.Context, pageID int64) ([]*Pair, error)
	UpdatePageScores(ctx context.Context, pageID int64, p *Pair) error
	ListActivePageIDsForTeams(ctx context.Context, teamIDs []int64) ([]int64, error)
	ListTeamIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

// Recalculator recomputes section and page score pairs as means of their
// children's latest values. Both passes are idempotent: recomputing with
// unchanged inputs writes identical values.
type Recalculator struct {
	Store  Store
	Logger *log.Logger
}

// RecalculateSection recomputes one section's score pair from the latest
// succeeded run of each of its section agents. Returns the stored pair, nil
// when no agent contributed a parseable score.
func (r *Recalculator) RecalculateSection(ctx context.Context, sectionID int64) (*Pair, error) {
	agentIDs, err := r.Store.ListSectionAgentIDs(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list section agents: %w", err)
	}

	var pairs []Pair
	for _, said := range agentIDs {
		output, ok, err := r.Store.LatestSucceededOutput(ctx, said)
		if err != nil {
			return nil, fmt.Errorf("latest run output for section agent %d: %w", said, err)
		}
		if !ok {
			continue
		}
		if p, found := Extract(output); found {
			pairs = append(pairs, p)
		}
	}

	avg, ok := Average(pairs)
	var stored *Pair
	if ok {
		stored = &avg
	}
	if err := r.Store.UpdateSectionScores(ctx, sectionID, stored); err != nil {
		return nil, fmt.Errorf("update section %d scores: %w", sectionID, err)
	}
	return stored, nil
}

// RecalculatePage runs the section pass for every section of the page, then
// recomputes the page pair as the mean of the non-null section pairs.
func (r *Recalculator) RecalculatePage(ctx context.Context, pageID int64) error {
	sectionIDs, err := r.Store.ListSectionIDs(ctx, pageID)
	if err != nil {
		return fmt.Errorf("list sections for page %d: %w", pageID, err)
	}
	for _, sid := range sectionIDs {
		if _, err := r.RecalculateSection(ctx, sid); err != nil {
			return err
		}
	}
	return r.RecalculatePageFromSections(ctx, pageID)
}

// RecalculatePageFromSections recomputes only the page-level pair from the
// sections' stored pairs, without touching the sections themselves.
func (r *Recalculator) RecalculatePageFromSections(ctx context.Context, pageID int64) error {
	sectionPairs, err := r.Store.ListSectionScorePairs(ctx, pageID)
	if err != nil {
		return fmt.Errorf("list section scores for page %d: %w", pageID, err)
	}
	var pairs []Pair
	for _, p := range sectionPairs {
		if p != nil {
			pairs = append(pairs, *p)
		}
	}
	avg, ok := Average(pairs)
	var stored *Pair
	if ok {
		stored = &avg
	}
	if err := r.Store.UpdatePageScores(ctx, pageID, stored); err != nil {
		return fmt.Errorf("update page %d scores: %w", pageID, err)
	}
	return nil
}

// RecalculateAllForUser performs the full two-pass sweep for every active page
// visible to the user's teams, in page order. Pages are independent of each
// other; the sweep executes them sequentially.
func (r *Recalculator) RecalculateAllForUser(ctx context.Context, userID int64) (int, error) {
	teamIDs, err := r.Store.ListTeamIDsForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list teams for user %d: %w", userID, err)
	}
	if len(teamIDs) == 0 {
		return 0, nil
	}
	pageIDs, err := r.Store.ListActivePageIDsForTeams(ctx, teamIDs)
	if err != nil {
		return 0, fmt.Errorf("list pages: %w", err)
	}
	for _, pid := range pageIDs {
		if err := r.RecalculatePage(ctx, pid); err != nil {
			return 0, err
		}
	}
	if r.Logger != nil {
		r.Logger.Printf("recalculated scores for %d research pages (user %d)", len(pageIDs), userID)
	}
	return len(pageIDs), nil
}
