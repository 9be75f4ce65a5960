package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"
)

type Store struct {
	DB *sql.DB
}

// Run statuses. A run is created Queued, claimed to Running by the consumer
// loop, and ends in exactly one of the two terminal states.
const (
	RunStatusQueued    = "Queued"
	RunStatusRunning   = "Running"
	RunStatusSucceeded = "Succeeded"
	RunStatusFailed    = "Failed"
)

// AttachmentKind distinguishes page-level from section-level agent bindings.
type AttachmentKind string

const (
	AttachmentPage    AttachmentKind = "page"
	AttachmentSection AttachmentKind = "section"
)

// Auth strategy tags stored on an agent configuration.
const (
	AuthNone             = "None"
	AuthBasic            = "BasicAuth"
	AuthAPIToken         = "ApiToken"
	AuthUsernamePassword = "UsernamePassword"
)

// Run is one queued/executed/completed unit of agent work. Exactly one of
// PageAgentID and SectionAgentID is set; SectionID is denormalized for
// scoring.
type Run struct {
	ID             int64
	PageAgentID    *int64
	SectionAgentID *int64
	SectionID      *int64
	BatchID        *string
	Status         string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Output         *string
	Error          *string
	CreatedAt      time.Time
}

// AttachmentID returns the owning attachment's id and kind.
func (r *Run) AttachmentID() (int64, AttachmentKind, bool) {
	if r.PageAgentID != nil {
		return *r.PageAgentID, AttachmentPage, true
	}
	if r.SectionAgentID != nil {
		return *r.SectionAgentID, AttachmentSection, true
	}
	return 0, "", false
}

// AgentConfig is the immutable-during-a-run snapshot of an agent's
// configuration. Password, APIToken and LLMAPIKey hold ciphertext.
type AgentConfig struct {
	ID                  int64
	TeamID              int64
	OwnerUserID         int64
	Name                string
	Description         string
	Visibility          string
	EndpointURL         string
	HTTPMethod          string
	AuthType            string
	Username            string
	Password            []byte
	APIToken            []byte
	LoginEndpointURL    string
	RequestBodyTemplate string
	Instructions        string
	Model               string
	CreatedAt           time.Time
}

// Attachment binds one agent configuration to a page or section and carries
// the denormalized last-run fields updated by every terminal run.
type Attachment struct {
	ID            int64
	Kind          AttachmentKind
	PageID        int64 // set for page attachments
	SectionID     int64 // set for section attachments
	AgentID       int64
	IsEnabled     bool
	LastRunStatus *string
	LastRunAt     *time.Time
}

// Subject is the security context used to fill template placeholders.
type Subject struct {
	FIGI   string
	Ticker string
	Name   string
}

// Security is one row of the reference instrument table.
type Security struct {
	FIGI         string
	Ticker       string
	Name         string
	SecurityType string
}

// Page is a research page with its cached aggregate scores.
type Page struct {
	ID               int64
	TeamID           int64
	SecurityFIGI     string
	FundamentalScore *int
	ConvictionScore  *int
	LastUpdated      time.Time
}

// Section is one titled block of a research page.
type Section struct {
	ID               int64
	PageID           int64
	Title            string
	Content          string
	FundamentalScore *int
	ConvictionScore  *int
}

// Comment is one discussion entry on a section. AuthorID is nil for
// agent-authored comments, which carry AuthorAgentName instead.
type Comment struct {
	ID              int64
	SectionID       int64
	AuthorID        *int64
	AuthorType      *string
	AuthorAgentName *string
	Content         string
	CreatedAt       time.Time
}

// Team is a collaboration group owning pages and agents.
type Team struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id int64, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Team operations
func (s *Store) CreateTeam(ctx context.Context, userID int64, name string) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `INSERT INTO teams (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO team_members (team_id, user_id, status) VALUES ($1,$2,'ACTIVE')`, id, userID); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// IsActiveMember reports whether the user is an active member of the team.
// Every team-scoped handler gates on this.
func (s *Store) IsActiveMember(ctx context.Context, userID, teamID int64) (bool, error) {
	var ok bool
	err := s.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM team_members
  WHERE user_id=$1 AND team_id=$2 AND status='ACTIVE' AND NOT is_deleted
)`, userID, teamID).Scan(&ok)
	return ok, err
}

func (s *Store) ListTeamIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT team_id FROM team_members
WHERE user_id=$1 AND status='ACTIVE' AND NOT is_deleted
ORDER BY team_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func (s *Store) ListTeamsForUser(ctx context.Context, userID int64) ([]Team, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.id, t.name, t.created_at FROM teams t
JOIN team_members tm ON tm.team_id = t.id
WHERE tm.user_id=$1 AND tm.status='ACTIVE' AND NOT tm.is_deleted
ORDER BY t.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Security operations
func (s *Store) UpsertSecurity(ctx context.Context, sec Security) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO securities (figi, ticker, name, security_type)
VALUES ($1,$2,$3,$4)
ON CONFLICT (figi) DO UPDATE SET ticker=EXCLUDED.ticker, name=EXCLUDED.name, security_type=EXCLUDED.security_type`,
		sec.FIGI, sec.Ticker, sec.Name, sec.SecurityType)
	return err
}

// SearchSecurities matches tickers and names by case-insensitive prefix.
func (s *Store) SearchSecurities(ctx context.Context, query string, limit int) ([]Security, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT figi, ticker, name, security_type FROM securities
WHERE ticker ILIKE $1 || '%' OR name ILIKE $1 || '%'
ORDER BY ticker
LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Security
	for rows.Next() {
		var sec Security
		if err := rows.Scan(&sec.FIGI, &sec.Ticker, &sec.Name, &sec.SecurityType); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
