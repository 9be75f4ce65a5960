package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks lookups that matched no row.
var ErrNotFound = errors.New("not found")

// defaultSectionTitles picks the starter sections for a new page based on the
// instrument's type. Unknown types get the corporate layout.
func defaultSectionTitles(securityType string) []string {
	switch strings.TrimSpace(securityType) {
	case "Sovereign":
		return []string{"Economic Outlook", "Fiscal Policy", "Geopolitical Risk"}
	default:
		return []string{"Market Data", "Business Model", "Financial Health", "Management Quality", "ESG"}
	}
}

// Page operations

// CreatePage opens a page and seeds it with the default sections for the
// security's type, all in one transaction.
func (s *Store) CreatePage(ctx context.Context, teamID int64, figi string) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var secType sql.NullString
	if err := tx.QueryRowContext(ctx, `
SELECT security_type FROM securities WHERE figi=$1`, figi).Scan(&secType); err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `
INSERT INTO research_pages (team_id, security_figi) VALUES ($1,$2) RETURNING id`, teamID, figi).Scan(&id); err != nil {
		return 0, err
	}
	for _, title := range defaultSectionTitles(secType.String) {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sections (research_page_id, title) VALUES ($1,$2)`, id, title); err != nil {
			return 0, fmt.Errorf("seed section %q: %w", title, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) GetPage(ctx context.Context, pageID int64) (Page, error) {
	var p Page
	var fund, conv sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
SELECT id, team_id, security_figi, fundamental_score, conviction_score, last_updated
FROM research_pages WHERE id=$1 AND NOT is_deleted`, pageID).
		Scan(&p.ID, &p.TeamID, &p.SecurityFIGI, &fund, &conv, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, err
	}
	p.FundamentalScore = nullInt64Ptr(fund)
	p.ConvictionScore = nullInt64Ptr(conv)
	return p, nil
}

func (s *Store) ListPagesForTeams(ctx context.Context, teamIDs []int64) ([]Page, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, team_id, security_figi, fundamental_score, conviction_score, last_updated
FROM research_pages
WHERE team_id = ANY($1) AND NOT is_deleted
ORDER BY id`, int64Array(teamIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Page
	for rows.Next() {
		var p Page
		var fund, conv sql.NullInt64
		if err := rows.Scan(&p.ID, &p.TeamID, &p.SecurityFIGI, &fund, &conv, &p.LastUpdated); err != nil {
			return nil, err
		}
		p.FundamentalScore = nullInt64Ptr(fund)
		p.ConvictionScore = nullInt64Ptr(conv)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListActivePageIDsForTeams(ctx context.Context, teamIDs []int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id FROM research_pages WHERE team_id = ANY($1) AND NOT is_deleted ORDER BY id`, int64Array(teamIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// ListActivePageIDs returns every non-deleted page, for the scheduled score
// sweep that runs across all teams.
func (s *Store) ListActivePageIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id FROM research_pages WHERE NOT is_deleted ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// DeletePage soft-deletes a page and its sections and hard-deletes the
// attachments and runs hanging off them, mirroring the cascade the rest of
// the application expects.
func (s *Store) DeletePage(ctx context.Context, pageID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM agent_runs
WHERE section_agent_id IN (
  SELECT sa.id FROM section_agents sa
  JOIN sections s ON s.id = sa.section_id
  WHERE s.research_page_id=$1
) OR page_agent_id IN (SELECT id FROM page_agents WHERE research_page_id=$1)`, pageID); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM section_agents WHERE section_id IN (SELECT id FROM sections WHERE research_page_id=$1)`, pageID); err != nil {
		return fmt.Errorf("delete section agents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_agents WHERE research_page_id=$1`, pageID); err != nil {
		return fmt.Errorf("delete page agents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE comments SET is_deleted=TRUE, deleted_at=NOW()
WHERE section_id IN (SELECT id FROM sections WHERE research_page_id=$1)`, pageID); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sections SET is_deleted=TRUE WHERE research_page_id=$1`, pageID); err != nil {
		return fmt.Errorf("delete sections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE research_pages SET is_deleted=TRUE WHERE id=$1`, pageID); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return tx.Commit()
}

// GetPageSubject loads the security context used for template substitution.
// Missing security fields resolve to empty strings.
func (s *Store) GetPageSubject(ctx context.Context, pageID int64) (Subject, error) {
	var subj Subject
	var ticker, name sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT p.security_figi, sec.ticker, sec.name
FROM research_pages p
LEFT JOIN securities sec ON sec.figi = p.security_figi
WHERE p.id=$1`, pageID).Scan(&subj.FIGI, &ticker, &name)
	if err == sql.ErrNoRows {
		return Subject{}, ErrNotFound
	}
	if err != nil {
		return Subject{}, err
	}
	subj.Ticker = ticker.String
	subj.Name = name.String
	return subj, nil
}

// Section operations
func (s *Store) CreateSection(ctx context.Context, pageID int64, title string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO sections (research_page_id, title) VALUES ($1,$2) RETURNING id`, pageID, title).Scan(&id)
	return id, err
}

func (s *Store) GetSection(ctx context.Context, sectionID int64) (Section, error) {
	var sec Section
	var fund, conv sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
SELECT id, research_page_id, title, COALESCE(content,''), fundamental_score, conviction_score
FROM sections WHERE id=$1 AND NOT is_deleted`, sectionID).
		Scan(&sec.ID, &sec.PageID, &sec.Title, &sec.Content, &fund, &conv)
	if err == sql.ErrNoRows {
		return Section{}, ErrNotFound
	}
	if err != nil {
		return Section{}, err
	}
	sec.FundamentalScore = nullInt64Ptr(fund)
	sec.ConvictionScore = nullInt64Ptr(conv)
	return sec, nil
}

func (s *Store) ListSections(ctx context.Context, pageID int64) ([]Section, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, research_page_id, title, COALESCE(content,''), fundamental_score, conviction_score
FROM sections WHERE research_page_id=$1 AND NOT is_deleted ORDER BY id`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Section
	for rows.Next() {
		var sec Section
		var fund, conv sql.NullInt64
		if err := rows.Scan(&sec.ID, &sec.PageID, &sec.Title, &sec.Content, &fund, &conv); err != nil {
			return nil, err
		}
		sec.FundamentalScore = nullInt64Ptr(fund)
		sec.ConvictionScore = nullInt64Ptr(conv)
		out = append(out, sec)
	}
	return out, rows.Err()
}

func (s *Store) ListSectionIDs(ctx context.Context, pageID int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id FROM sections WHERE research_page_id=$1 AND NOT is_deleted ORDER BY id`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func (s *Store) UpdateSectionContent(ctx context.Context, sectionID int64, title, content string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE sections SET title=$2, content=$3 WHERE id=$1 AND NOT is_deleted`, sectionID, title, content)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteSection soft-deletes a section and its comments and hard-deletes the
// section's attachments and their runs, so the poller never claims work for a
// section nobody can see anymore.
func (s *Store) DeleteSection(ctx context.Context, sectionID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM agent_runs WHERE section_agent_id IN (SELECT id FROM section_agents WHERE section_id=$1)`, sectionID); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM section_agents WHERE section_id=$1`, sectionID); err != nil {
		return fmt.Errorf("delete section agents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE comments SET is_deleted=TRUE, deleted_at=NOW() WHERE section_id=$1`, sectionID); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE sections SET is_deleted=TRUE WHERE id=$1`, sectionID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// Comment operations

// AddComment records a user-authored comment on a section.
func (s *Store) AddComment(ctx context.Context, sectionID, authorID int64, content string) (Comment, error) {
	var c Comment
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO comments (section_id, author_id, author_type, content) VALUES ($1,$2,'User',$3)
RETURNING id, section_id, author_id, author_type, author_agent_name, content, created_at`,
		sectionID, authorID, content).
		Scan(&c.ID, &c.SectionID, &c.AuthorID, &c.AuthorType, &c.AuthorAgentName, &c.Content, &c.CreatedAt)
	return c, err
}

// ListComments returns a section's live comments, oldest first.
func (s *Store) ListComments(ctx context.Context, sectionID int64) ([]Comment, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, section_id, author_id, author_type, author_agent_name, content, created_at
FROM comments WHERE section_id=$1 AND NOT is_deleted ORDER BY created_at, id`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.SectionID, &c.AuthorID, &c.AuthorType, &c.AuthorAgentName, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetSectionPageID resolves a section's owning page.
func (s *Store) GetSectionPageID(ctx context.Context, sectionID int64) (int64, error) {
	var pageID int64
	err := s.DB.QueryRowContext(ctx, `SELECT research_page_id FROM sections WHERE id=$1`, sectionID).Scan(&pageID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return pageID, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
