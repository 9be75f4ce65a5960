package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

func int64Array(ids []int64) interface{} {
	return pq.Array(ids)
}

// Agent operations
func (s *Store) CreateAgent(ctx context.Context, a AgentConfig) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO agents (team_id, owner_user_id, name, description, visibility, endpoint_url,
  http_method, auth_type, username, password, api_token, login_endpoint_url,
  request_body_template, instructions, model)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id`,
		a.TeamID, a.OwnerUserID, a.Name, nullableString(a.Description), a.Visibility, a.EndpointURL,
		a.HTTPMethod, a.AuthType, nullableString(a.Username), a.Password, a.APIToken,
		nullableString(a.LoginEndpointURL), nullableString(a.RequestBodyTemplate),
		nullableString(a.Instructions), nullableString(a.Model)).Scan(&id)
	return id, err
}

// GetAgentConfig loads the immutable configuration snapshot for one agent.
func (s *Store) GetAgentConfig(ctx context.Context, agentID int64) (AgentConfig, error) {
	var a AgentConfig
	var desc, username, loginURL, bodyTpl, instructions, model sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT id, team_id, owner_user_id, name, description, visibility, endpoint_url,
  COALESCE(http_method,'GET'), COALESCE(auth_type,'None'), username, password, api_token,
  login_endpoint_url, request_body_template, instructions, model, created_at
FROM agents WHERE id=$1 AND NOT is_deleted`, agentID).
		Scan(&a.ID, &a.TeamID, &a.OwnerUserID, &a.Name, &desc, &a.Visibility, &a.EndpointURL,
			&a.HTTPMethod, &a.AuthType, &username, &a.Password, &a.APIToken,
			&loginURL, &bodyTpl, &instructions, &model, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return AgentConfig{}, ErrNotFound
	}
	if err != nil {
		return AgentConfig{}, err
	}
	a.Description = desc.String
	a.Username = username.String
	a.LoginEndpointURL = loginURL.String
	a.RequestBodyTemplate = bodyTpl.String
	a.Instructions = instructions.String
	a.Model = model.String
	return a, nil
}

// ListAgentsForTeam returns team-visible agents plus the caller's private
// ones, ordered by name.
func (s *Store) ListAgentsForTeam(ctx context.Context, teamID, userID int64) ([]AgentConfig, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, team_id, owner_user_id, name, COALESCE(description,''), visibility, endpoint_url,
  COALESCE(http_method,'GET'), COALESCE(auth_type,'None'), COALESCE(model,''), created_at
FROM agents
WHERE team_id=$1 AND NOT is_deleted AND (visibility='Team' OR owner_user_id=$2)
ORDER BY name`, teamID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgentConfig
	for rows.Next() {
		var a AgentConfig
		if err := rows.Scan(&a.ID, &a.TeamID, &a.OwnerUserID, &a.Name, &a.Description, &a.Visibility,
			&a.EndpointURL, &a.HTTPMethod, &a.AuthType, &a.Model, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAgent(ctx context.Context, agentID int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE agents SET is_deleted=TRUE, deleted_at=NOW() WHERE id=$1`, agentID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Attachment operations

// AttachPageAgent binds an agent to a page; attaching twice returns the
// existing binding.
func (s *Store) AttachPageAgent(ctx context.Context, pageID, agentID int64) (Attachment, error) {
	var att Attachment
	att.Kind = AttachmentPage
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO page_agents (research_page_id, agent_id, is_enabled)
VALUES ($1,$2,TRUE)
ON CONFLICT (research_page_id, agent_id) DO UPDATE SET agent_id=EXCLUDED.agent_id
RETURNING id, research_page_id, agent_id, is_enabled, last_run_status, last_run_at`, pageID, agentID).
		Scan(&att.ID, &att.PageID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt)
	return att, err
}

func (s *Store) AttachSectionAgent(ctx context.Context, sectionID, agentID int64) (Attachment, error) {
	var att Attachment
	att.Kind = AttachmentSection
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO section_agents (section_id, agent_id, is_enabled)
VALUES ($1,$2,TRUE)
ON CONFLICT (section_id, agent_id) DO UPDATE SET agent_id=EXCLUDED.agent_id
RETURNING id, section_id, agent_id, is_enabled, last_run_status, last_run_at`, sectionID, agentID).
		Scan(&att.ID, &att.SectionID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt)
	return att, err
}

func (s *Store) GetPageAgent(ctx context.Context, id int64) (Attachment, error) {
	att := Attachment{Kind: AttachmentPage}
	err := s.DB.QueryRowContext(ctx, `
SELECT id, research_page_id, agent_id, is_enabled, last_run_status, last_run_at
FROM page_agents WHERE id=$1`, id).
		Scan(&att.ID, &att.PageID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt)
	if err == sql.ErrNoRows {
		return Attachment{}, ErrNotFound
	}
	return att, err
}

func (s *Store) GetSectionAgent(ctx context.Context, id int64) (Attachment, error) {
	att := Attachment{Kind: AttachmentSection}
	err := s.DB.QueryRowContext(ctx, `
SELECT id, section_id, agent_id, is_enabled, last_run_status, last_run_at
FROM section_agents WHERE id=$1`, id).
		Scan(&att.ID, &att.SectionID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt)
	if err == sql.ErrNoRows {
		return Attachment{}, ErrNotFound
	}
	return att, err
}

func (s *Store) ListPageAgents(ctx context.Context, pageID int64) ([]Attachment, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, research_page_id, agent_id, is_enabled, last_run_status, last_run_at
FROM page_agents WHERE research_page_id=$1 ORDER BY id`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		att := Attachment{Kind: AttachmentPage}
		if err := rows.Scan(&att.ID, &att.PageID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

func (s *Store) ListSectionAgents(ctx context.Context, sectionID int64) ([]Attachment, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, section_id, agent_id, is_enabled, last_run_status, last_run_at
FROM section_agents WHERE section_id=$1 ORDER BY id`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		att := Attachment{Kind: AttachmentSection}
		if err := rows.Scan(&att.ID, &att.SectionID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

func (s *Store) ListSectionAgentIDs(ctx context.Context, sectionID int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id FROM section_agents WHERE section_id=$1 ORDER BY id`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// ListSectionAgentsForPage spans all sections of a page, for the run-all
// fan-out.
func (s *Store) ListSectionAgentsForPage(ctx context.Context, pageID int64) ([]Attachment, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT sa.id, sa.section_id, sa.agent_id, sa.is_enabled, sa.last_run_status, sa.last_run_at
FROM section_agents sa
JOIN sections s ON s.id = sa.section_id
WHERE s.research_page_id=$1 AND NOT s.is_deleted
ORDER BY sa.id`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		att := Attachment{Kind: AttachmentSection}
		if err := rows.Scan(&att.ID, &att.SectionID, &att.AgentID, &att.IsEnabled, &att.LastRunStatus, &att.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

// SetAttachmentEnabled flips the enable gate used by automatic fan-outs. An
// explicit queue request still runs a disabled attachment.
func (s *Store) SetAttachmentEnabled(ctx context.Context, id int64, kind AttachmentKind, enabled bool) error {
	table := "page_agents"
	if kind == AttachmentSection {
		table = "section_agents"
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE `+table+` SET is_enabled=$2 WHERE id=$1`, id, enabled)
	if err != nil {
		return err
	}
	return requireRow(res)
}
