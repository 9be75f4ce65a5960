package server

import "time"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID int64 `json:"id"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID int64 `json:"user_id"`
}

// CreateTeamRequest represents a new team payload.
type CreateTeamRequest struct {
	Name string `json:"name"`
}

// TeamResponse is one team the caller belongs to.
type TeamResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UpsertSecurityRequest loads or refreshes one reference instrument.
type UpsertSecurityRequest struct {
	FIGI         string `json:"figi"`
	Ticker       string `json:"ticker"`
	Name         string `json:"name"`
	SecurityType string `json:"security_type"`
}

// SecurityResponse is one instrument search hit.
type SecurityResponse struct {
	FIGI         string `json:"figi"`
	Ticker       string `json:"ticker"`
	Name         string `json:"name"`
	SecurityType string `json:"security_type"`
}

// CreatePageRequest opens a research page for a security within a team.
type CreatePageRequest struct {
	TeamID int64  `json:"team_id"`
	FIGI   string `json:"figi"`
}

// PageResponse is a research page summary.
type PageResponse struct {
	ID               int64     `json:"id"`
	TeamID           int64     `json:"team_id"`
	FIGI             string    `json:"figi"`
	Ticker           string    `json:"ticker,omitempty"`
	SecurityName     string    `json:"security_name,omitempty"`
	FundamentalScore *int      `json:"fundamental_score,omitempty"`
	ConvictionScore  *int      `json:"conviction_score,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// PageDetailResponse is a page with its sections.
type PageDetailResponse struct {
	PageResponse
	Sections []SectionResponse `json:"sections"`
}

// CreateSectionRequest adds a section to a page.
type CreateSectionRequest struct {
	Title string `json:"title"`
}

// UpdateSectionRequest edits a section's title or content.
type UpdateSectionRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SectionResponse is one section of a research page.
type SectionResponse struct {
	ID               int64  `json:"id"`
	PageID           int64  `json:"page_id"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	FundamentalScore *int   `json:"fundamental_score,omitempty"`
	ConvictionScore  *int   `json:"conviction_score,omitempty"`
}

// CreateCommentRequest posts a comment on a section.
type CreateCommentRequest struct {
	Content string `json:"content"`
}

// CommentResponse is one discussion entry on a section.
type CommentResponse struct {
	ID              int64     `json:"id"`
	SectionID       int64     `json:"section_id"`
	AuthorID        *int64    `json:"author_id,omitempty"`
	AuthorType      *string   `json:"author_type,omitempty"`
	AuthorAgentName *string   `json:"author_agent_name,omitempty"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateAgentRequest registers a REST agent configuration.
type CreateAgentRequest struct {
	TeamID              int64  `json:"team_id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Visibility          string `json:"visibility"`
	EndpointURL         string `json:"endpoint_url"`
	HTTPMethod          string `json:"http_method"`
	AuthType            string `json:"auth_type"`
	Username            string `json:"username"`
	Password            string `json:"password"`
	APIToken            string `json:"api_token"`
	LoginEndpointURL    string `json:"login_endpoint_url"`
	RequestBodyTemplate string `json:"request_body_template"`
	Instructions        string `json:"instructions"`
	Model               string `json:"model"`
}

// AgentResponse is an agent configuration without credential material.
type AgentResponse struct {
	ID          int64  `json:"id"`
	TeamID      int64  `json:"team_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	EndpointURL string `json:"endpoint_url"`
	HTTPMethod  string `json:"http_method"`
	AuthType    string `json:"auth_type"`
	Model       string `json:"model"`
}

// AttachAgentRequest binds an agent to a page or section.
type AttachAgentRequest struct {
	AgentID int64 `json:"agent_id"`
}

// AttachmentResponse is one page- or section-level agent binding.
type AttachmentResponse struct {
	ID            int64      `json:"id"`
	AgentID       int64      `json:"agent_id"`
	IsEnabled     bool       `json:"is_enabled"`
	LastRunStatus *string    `json:"last_run_status,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
}

// SetEnabledRequest toggles an attachment.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// RunResponse is one agent run, terminal or not.
type RunResponse struct {
	ID          int64      `json:"id"`
	Status      string     `json:"status"`
	BatchID     *string    `json:"batch_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      *string    `json:"output,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RunAllResponse reports a fan-out enqueue.
type RunAllResponse struct {
	BatchID string `json:"batch_id"`
	Queued  int    `json:"queued"`
}

// RecalculateResponse reports how many pages a score sweep touched.
type RecalculateResponse struct {
	PagesUpdated int `json:"pages_updated"`
}
