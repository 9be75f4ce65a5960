package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"researchdesk/internal/runtime"
	"researchdesk/internal/scoring"
	"researchdesk/internal/store"
)

// ResearchHandler serves pages and sections. Page-level scores are recomputed
// from the stored section pairs on every page read, so a stale page pair can
// never be observed after a section changed.
type ResearchHandler struct {
	Store  *store.Store
	Recalc *scoring.Recalculator
}

func (h *ResearchHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/pages", h.createPage)
	g.GET("/pages", h.listPages)
	g.GET("/pages/:id", h.getPage)
	g.DELETE("/pages/:id", h.deletePage)
	g.POST("/pages/:id/sections", h.createSection)
	g.PUT("/sections/:id", h.updateSection)
	g.DELETE("/sections/:id", h.deleteSection)
	g.POST("/sections/:id/comments", h.addComment)
	g.GET("/sections/:id/comments", h.listComments)
	g.POST("/recalculate", h.recalculate)
}

// requirePageAccess loads the page and verifies the caller is an active
// member of its owning team.
func (h *ResearchHandler) requirePageAccess(c echo.Context, pageID int64) (store.Page, error) {
	page, err := h.Store.GetPage(c.Request().Context(), pageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Page{}, echo.NewHTTPError(http.StatusNotFound, "page not found")
		}
		return store.Page{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	userID, ok := runtime.UserID(c)
	if !ok {
		return store.Page{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	member, err := h.Store.IsActiveMember(c.Request().Context(), userID, page.TeamID)
	if err != nil {
		return store.Page{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !member {
		return store.Page{}, echo.NewHTTPError(http.StatusForbidden, "not a member of the owning team")
	}
	return page, nil
}

// CreatePage
//
//	@Summary	Open a research page for a security
//	@Tags		research
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreatePageRequest	true	"Page payload"
//	@Success	201		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	403		{object}	HTTPError
//	@Router		/api/research/pages [post]
func (h *ResearchHandler) createPage(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req CreatePageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TeamID == 0 || req.FIGI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "team_id and figi required")
	}
	member, err := h.Store.IsActiveMember(c.Request().Context(), userID, req.TeamID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !member {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of the team")
	}
	id, err := h.Store.CreatePage(c.Request().Context(), req.TeamID, req.FIGI)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// ListPages
//
//	@Summary	List active pages visible to the caller
//	@Tags		research
//	@Produce	json
//	@Param		team_id	query	int	false	"Restrict to one team"
//	@Success	200		{array}	PageResponse
//	@Router		/api/research/pages [get]
func (h *ResearchHandler) listPages(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	ctx := c.Request().Context()
	teamIDs, err := h.Store.ListTeamIDsForUser(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if q := c.QueryParam("team_id"); q != "" {
		teamID, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid team_id")
		}
		teamIDs = intersect(teamIDs, teamID)
	}
	pages, err := h.Store.ListPagesForTeams(ctx, teamIDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]PageResponse, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageResponse(p))
	}
	return c.JSON(http.StatusOK, out)
}

// GetPage
//
//	@Summary	Fetch one page with its sections
//	@Tags		research
//	@Produce	json
//	@Param		id	path		int	true	"Page id"
//	@Success	200	{object}	PageDetailResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/research/pages/{id} [get]
func (h *ResearchHandler) getPage(c echo.Context) error {
	pageID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, pageID); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Recalc.RecalculatePageFromSections(ctx, pageID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	page, err := h.Store.GetPage(ctx, pageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sections, err := h.Store.ListSections(ctx, pageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := PageDetailResponse{PageResponse: pageResponse(page)}
	if subj, err := h.Store.GetPageSubject(ctx, pageID); err == nil {
		resp.Ticker = subj.Ticker
		resp.SecurityName = subj.Name
	}
	resp.Sections = make([]SectionResponse, 0, len(sections))
	for _, s := range sections {
		resp.Sections = append(resp.Sections, sectionResponse(s))
	}
	return c.JSON(http.StatusOK, resp)
}

// DeletePage
//
//	@Summary	Delete a page and everything attached to it
//	@Tags		research
//	@Param		id	path		int	true	"Page id"
//	@Success	204	{string}	string	"No Content"
//	@Router		/api/research/pages/{id} [delete]
func (h *ResearchHandler) deletePage(c echo.Context) error {
	pageID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, pageID); err != nil {
		return err
	}
	if err := h.Store.DeletePage(c.Request().Context(), pageID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateSection
//
//	@Summary	Add a section to a page
//	@Tags		research
//	@Accept		json
//	@Produce	json
//	@Param		id		path		int						true	"Page id"
//	@Param		payload	body		CreateSectionRequest	true	"Section payload"
//	@Success	201		{object}	IDResponse
//	@Router		/api/research/pages/{id}/sections [post]
func (h *ResearchHandler) createSection(c echo.Context) error {
	pageID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, pageID); err != nil {
		return err
	}
	var req CreateSectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title required")
	}
	id, err := h.Store.CreateSection(c.Request().Context(), pageID, req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// UpdateSection
//
//	@Summary	Edit a section's title or content
//	@Tags		research
//	@Accept		json
//	@Param		id		path		int						true	"Section id"
//	@Param		payload	body		UpdateSectionRequest	true	"Section payload"
//	@Success	204		{string}	string					"No Content"
//	@Router		/api/research/sections/{id} [put]
func (h *ResearchHandler) updateSection(c echo.Context) error {
	sectionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	pageID, err := h.sectionPage(c, sectionID)
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, pageID); err != nil {
		return err
	}
	var req UpdateSectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.UpdateSectionContent(c.Request().Context(), sectionID, req.Title, req.Content); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteSection
//
//	@Summary	Delete a section
//	@Tags		research
//	@Param		id	path		int		true	"Section id"
//	@Success	204	{string}	string	"No Content"
//	@Router		/api/research/sections/{id} [delete]
func (h *ResearchHandler) deleteSection(c echo.Context) error {
	sectionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	pageID, err := h.sectionPage(c, sectionID)
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, pageID); err != nil {
		return err
	}
	if err := h.Store.DeleteSection(c.Request().Context(), sectionID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// AddComment
//
//	@Summary	Post a comment on a section
//	@Tags		research
//	@Accept		json
//	@Produce	json
//	@Param		id		path		int						true	"Section id"
//	@Param		payload	body		CreateCommentRequest	true	"Comment payload"
//	@Success	201		{object}	CommentResponse
//	@Failure	404		{object}	HTTPError
//	@Router		/api/research/sections/{id}/comments [post]
func (h *ResearchHandler) addComment(c echo.Context) error {
	sectionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sec, err := h.liveSection(c, sectionID)
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, sec.PageID); err != nil {
		return err
	}
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req CreateCommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}
	comment, err := h.Store.AddComment(c.Request().Context(), sectionID, userID, req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, commentResponse(comment))
}

// ListComments
//
//	@Summary	List a section's comments, oldest first
//	@Tags		research
//	@Produce	json
//	@Param		id	path	int	true	"Section id"
//	@Success	200	{array}	CommentResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/research/sections/{id}/comments [get]
func (h *ResearchHandler) listComments(c echo.Context) error {
	sectionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sec, err := h.liveSection(c, sectionID)
	if err != nil {
		return err
	}
	if _, err := h.requirePageAccess(c, sec.PageID); err != nil {
		return err
	}
	comments, err := h.Store.ListComments(c.Request().Context(), sectionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]CommentResponse, 0, len(comments))
	for _, cm := range comments {
		out = append(out, commentResponse(cm))
	}
	return c.JSON(http.StatusOK, out)
}

// Recalculate
//
//	@Summary	Recompute section and page scores across the caller's teams
//	@Tags		research
//	@Produce	json
//	@Success	200	{object}	RecalculateResponse
//	@Router		/api/research/recalculate [post]
func (h *ResearchHandler) recalculate(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	updated, err := h.Recalc.RecalculateAllForUser(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, RecalculateResponse{PagesUpdated: updated})
}

// liveSection loads a section, turning soft-deleted ones into 404s.
func (h *ResearchHandler) liveSection(c echo.Context, sectionID int64) (store.Section, error) {
	sec, err := h.Store.GetSection(c.Request().Context(), sectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Section{}, echo.NewHTTPError(http.StatusNotFound, "section not found")
		}
		return store.Section{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return sec, nil
}

func (h *ResearchHandler) sectionPage(c echo.Context, sectionID int64) (int64, error) {
	pageID, err := h.Store.GetSectionPageID(c.Request().Context(), sectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, echo.NewHTTPError(http.StatusNotFound, "section not found")
		}
		return 0, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return pageID, nil
}

func pageResponse(p store.Page) PageResponse {
	return PageResponse{
		ID:               p.ID,
		TeamID:           p.TeamID,
		FIGI:             p.SecurityFIGI,
		FundamentalScore: p.FundamentalScore,
		ConvictionScore:  p.ConvictionScore,
		LastUpdated:      p.LastUpdated,
	}
}

func sectionResponse(s store.Section) SectionResponse {
	return SectionResponse{
		ID:               s.ID,
		PageID:           s.PageID,
		Title:            s.Title,
		Content:          s.Content,
		FundamentalScore: s.FundamentalScore,
		ConvictionScore:  s.ConvictionScore,
	}
}

func commentResponse(c store.Comment) CommentResponse {
	return CommentResponse{
		ID:              c.ID,
		SectionID:       c.SectionID,
		AuthorID:        c.AuthorID,
		AuthorType:      c.AuthorType,
		AuthorAgentName: c.AuthorAgentName,
		Content:         c.Content,
		CreatedAt:       c.CreatedAt,
	}
}

// intersect returns {target} when the user belongs to it, nothing otherwise.
func intersect(teamIDs []int64, target int64) []int64 {
	for _, id := range teamIDs {
		if id == target {
			return []int64{target}
		}
	}
	return nil
}
