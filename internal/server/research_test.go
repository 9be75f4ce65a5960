package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
)

func expectLiveSection(mock sqlmock.Sqlmock, sectionID, pageID int64) {
	mock.ExpectQuery(`FROM sections WHERE id=\$1 AND NOT is_deleted`).
		WithArgs(sectionID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "research_page_id", "title", "content", "fundamental_score", "conviction_score"}).
			AddRow(sectionID, pageID, "Fundamentals", "", nil, nil))
}

func TestAddComment(t *testing.T) {
	e := echo.New()
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	handler := &ResearchHandler{Store: st}

	expectLiveSection(mock, 3, 9)
	expectPageAccess(mock, 9, 2, 5)
	mock.ExpectQuery(`INSERT INTO comments`).
		WithArgs(int64(3), int64(5), "solid quarter").
		WillReturnRows(sqlmock.NewRows([]string{"id", "section_id", "author_id", "author_type", "author_agent_name", "content", "created_at"}).
			AddRow(int64(1), int64(3), int64(5), "User", nil, "solid quarter", time.Now()))

	req := httptest.NewRequest(http.MethodPost, "/api/research/sections/3/comments", strings.NewReader(`{"content":"solid quarter"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(5))
	ctx.SetParamNames("id")
	ctx.SetParamValues("3")

	if err := handler.addComment(ctx); err != nil {
		t.Fatalf("addComment: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	var resp CommentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "solid quarter" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.AuthorID == nil || *resp.AuthorID != 5 {
		t.Fatalf("author id = %v, want 5", resp.AuthorID)
	}
	if resp.AuthorType == nil || *resp.AuthorType != "User" {
		t.Fatalf("author type = %v, want User", resp.AuthorType)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAddCommentDeletedSection(t *testing.T) {
	e := echo.New()
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	handler := &ResearchHandler{Store: st}

	// Soft-deleted sections do not match the live-section lookup.
	mock.ExpectQuery(`FROM sections WHERE id=\$1 AND NOT is_deleted`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "research_page_id", "title", "content", "fundamental_score", "conviction_score"}))

	req := httptest.NewRequest(http.MethodPost, "/api/research/sections/3/comments", strings.NewReader(`{"content":"too late"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(5))
	ctx.SetParamNames("id")
	ctx.SetParamValues("3")

	err := handler.addComment(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted section, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListCommentsOldestFirst(t *testing.T) {
	e := echo.New()
	st, mock, closeDB := newMockStore(t)
	defer closeDB()

	handler := &ResearchHandler{Store: st}

	expectLiveSection(mock, 3, 9)
	expectPageAccess(mock, 9, 2, 5)
	now := time.Now()
	mock.ExpectQuery(`FROM comments WHERE section_id=\$1 AND NOT is_deleted ORDER BY created_at, id`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "section_id", "author_id", "author_type", "author_agent_name", "content", "created_at"}).
			AddRow(int64(1), int64(3), int64(5), "User", nil, "first", now.Add(-time.Hour)).
			AddRow(int64(2), int64(3), int64(6), "User", nil, "second", now))

	req := httptest.NewRequest(http.MethodGet, "/api/research/sections/3/comments", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", int64(5))
	ctx.SetParamNames("id")
	ctx.SetParamValues("3")

	if err := handler.listComments(ctx); err != nil {
		t.Fatalf("listComments: %v", err)
	}
	var resp []CommentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].Content != "first" || resp[1].Content != "second" {
		t.Fatalf("unexpected comments: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
