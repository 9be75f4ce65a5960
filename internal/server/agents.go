package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"researchdesk/internal/runtime"
	"researchdesk/internal/secrets"
	"researchdesk/internal/store"
)

// AgentsHandler manages agent configurations, their page and section
// attachments, and run enqueueing. Credential material is encrypted before it
// reaches the store and never leaves the server in responses.
type AgentsHandler struct {
	Store  *store.Store
	Cipher *secrets.Cipher
}

func (h *AgentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.remove)
	g.GET("/runs/:id", h.getRun)
	g.POST("/attach/page/:id", h.attachPage)
	g.POST("/attach/section/:id", h.attachSection)
	g.GET("/attached/page/:id", h.listPageAttachments)
	g.GET("/attached/section/:id", h.listSectionAttachments)
	g.PUT("/attachments/:kind/:id/enabled", h.setEnabled)
	g.POST("/attachments/:kind/:id/run", h.runOne)
	g.GET("/attachments/:kind/:id/runs", h.listRuns)
	g.POST("/pages/:id/run-all", h.runAll)
}

// CreateAgent
//
//	@Summary	Register a REST agent configuration
//	@Tags		agents
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreateAgentRequest	true	"Agent payload"
//	@Success	201		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/agents [post]
func (h *AgentsHandler) create(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req CreateAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TeamID == 0 || req.Name == "" || req.EndpointURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "team_id, name and endpoint_url required")
	}
	switch req.AuthType {
	case "", store.AuthNone, store.AuthBasic, store.AuthAPIToken, store.AuthUsernamePassword:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown auth_type")
	}
	member, err := h.Store.IsActiveMember(c.Request().Context(), userID, req.TeamID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !member {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of the team")
	}

	agent := store.AgentConfig{
		TeamID:              req.TeamID,
		OwnerUserID:         userID,
		Name:                req.Name,
		Description:         req.Description,
		Visibility:          req.Visibility,
		EndpointURL:         req.EndpointURL,
		HTTPMethod:          req.HTTPMethod,
		AuthType:            req.AuthType,
		Username:            req.Username,
		LoginEndpointURL:    req.LoginEndpointURL,
		RequestBodyTemplate: req.RequestBodyTemplate,
		Instructions:        req.Instructions,
		Model:               req.Model,
	}
	if req.Password != "" {
		agent.Password, err = h.Cipher.Encrypt(req.Password)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if req.APIToken != "" {
		agent.APIToken, err = h.Cipher.Encrypt(req.APIToken)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	id, err := h.Store.CreateAgent(c.Request().Context(), agent)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// ListAgents
//
//	@Summary	List agents visible to the caller within a team
//	@Tags		agents
//	@Produce	json
//	@Param		team_id	query	int	true	"Team id"
//	@Success	200		{array}	AgentResponse
//	@Router		/api/agents [get]
func (h *AgentsHandler) list(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	teamID, err := queryID(c, "team_id")
	if err != nil {
		return err
	}
	member, err := h.Store.IsActiveMember(c.Request().Context(), userID, teamID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !member {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of the team")
	}
	agents, err := h.Store.ListAgentsForTeam(c.Request().Context(), teamID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a))
	}
	return c.JSON(http.StatusOK, out)
}

// GetAgent
//
//	@Summary	Agent configuration detail, without credential material
//	@Tags		agents
//	@Produce	json
//	@Param		id	path		int	true	"Agent id"
//	@Success	200	{object}	AgentResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/agents/{id} [get]
func (h *AgentsHandler) get(c echo.Context) error {
	agentID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	agent, err := h.Store.GetAgentConfig(c.Request().Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.requireTeam(c, agent.TeamID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agentResponse(agent))
}

// DeleteAgent
//
//	@Summary	Delete an agent configuration
//	@Tags		agents
//	@Param		id	path		int		true	"Agent id"
//	@Success	204	{string}	string	"No Content"
//	@Router		/api/agents/{id} [delete]
func (h *AgentsHandler) remove(c echo.Context) error {
	agentID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	agent, err := h.Store.GetAgentConfig(c.Request().Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.requireTeam(c, agent.TeamID); err != nil {
		return err
	}
	if err := h.Store.DeleteAgent(c.Request().Context(), agentID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// AttachPageAgent
//
//	@Summary	Attach an agent to a page
//	@Tags		agents
//	@Accept		json
//	@Produce	json
//	@Param		id		path		int					true	"Page id"
//	@Param		payload	body		AttachAgentRequest	true	"Attach payload"
//	@Success	201		{object}	AttachmentResponse
//	@Router		/api/agents/attach/page/{id} [post]
func (h *AgentsHandler) attachPage(c echo.Context) error {
	pageID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requirePage(c, pageID); err != nil {
		return err
	}
	var req AttachAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	att, err := h.Store.AttachPageAgent(c.Request().Context(), pageID, req.AgentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, attachmentResponse(att))
}

// AttachSectionAgent
//
//	@Summary	Attach an agent to a section
//	@Tags		agents
//	@Accept		json
//	@Produce	json
//	@Param		id		path		int					true	"Section id"
//	@Param		payload	body		AttachAgentRequest	true	"Attach payload"
//	@Success	201		{object}	AttachmentResponse
//	@Router		/api/agents/attach/section/{id} [post]
func (h *AgentsHandler) attachSection(c echo.Context) error {
	sectionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	pageID, err := h.Store.GetSectionPageID(c.Request().Context(), sectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "section not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.requirePage(c, pageID); err != nil {
		return err
	}
	var req AttachAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	att, err := h.Store.AttachSectionAgent(c.Request().Context(), sectionID, req.AgentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, attachmentResponse(att))
}

// ListPageAttachments
//
//	@Summary	List agents attached to a page
//	@Tags		agents
//	@Produce	json
//	@Param		id	path	int	true	"Page id"
//	@Success	200	{array}	AttachmentResponse
//	@Router		/api/agents/attached/page/{id} [get]
func (h *AgentsHandler) listPageAttachments(c echo.Context) error {
	pageID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requirePage(c, pageID); err != nil {
		return err
	}
	atts, err := h.Store.ListPageAgents(c.Request().Context(), pageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, attachmentResponses(atts))
}

// ListSectionAttachments
//
//	@Summary	List agents attached to a section
//	@Tags		agents
//	@Produce	json
//	@Param		id	path	int	true	"Section id"
//	@Success	200	{array}	AttachmentResponse
//	@Router		/api/agents/attached/section/{id} [get]
func (h *AgentsHandler) listSectionAttachments(c echo.Context) error {
	sectionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	pageID, err := h.Store.GetSectionPageID(c.Request().Context(), sectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "section not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.requirePage(c, pageID); err != nil {
		return err
	}
	atts, err := h.Store.ListSectionAgents(c.Request().Context(), sectionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, attachmentResponses(atts))
}

// SetAttachmentEnabled
//
//	@Summary	Enable or disable an attachment
//	@Tags		agents
//	@Accept		json
//	@Param		kind	path		string				true	"page or section"
//	@Param		id		path		int					true	"Attachment id"
//	@Param		payload	body		SetEnabledRequest	true	"Toggle payload"
//	@Success	204		{string}	string				"No Content"
//	@Router		/api/agents/attachments/{kind}/{id}/enabled [put]
func (h *AgentsHandler) setEnabled(c echo.Context) error {
	kind, att, err := h.loadAttachment(c)
	if err != nil {
		return err
	}
	var req SetEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.SetAttachmentEnabled(c.Request().Context(), att.ID, kind, req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// RunAttachment
//
//	@Summary	Queue a run for one attachment
//	@Tags		agents
//	@Produce	json
//	@Param		kind	path		string	true	"page or section"
//	@Param		id		path		int		true	"Attachment id"
//	@Success	202		{object}	IDResponse
//	@Router		/api/agents/attachments/{kind}/{id}/run [post]
func (h *AgentsHandler) runOne(c echo.Context) error {
	kind, att, err := h.loadAttachment(c)
	if err != nil {
		return err
	}
	var sectionID *int64
	if kind == store.AttachmentSection {
		sectionID = &att.SectionID
	}
	runID, err := h.Store.EnqueueRun(c.Request().Context(), att.ID, kind, sectionID, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, IDResponse{ID: runID})
}

// ListAttachmentRuns
//
//	@Summary	List runs for an attachment, newest first
//	@Tags		agents
//	@Produce	json
//	@Param		kind	path	string	true	"page or section"
//	@Param		id		path	int		true	"Attachment id"
//	@Success	200		{array}	RunResponse
//	@Router		/api/agents/attachments/{kind}/{id}/runs [get]
func (h *AgentsHandler) listRuns(c echo.Context) error {
	kind, att, err := h.loadAttachment(c)
	if err != nil {
		return err
	}
	runs, err := h.Store.ListRunsForAttachment(c.Request().Context(), att.ID, kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, runResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

// GetRun
//
//	@Summary	One run by id
//	@Tags		agents
//	@Produce	json
//	@Param		id	path		int	true	"Run id"
//	@Success	200	{object}	RunResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/agents/runs/{id} [get]
func (h *AgentsHandler) getRun(c echo.Context) error {
	runID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	run, err := h.Store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	attachmentID, kind, ok := run.AttachmentID()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run has no attachment")
	}
	var att store.Attachment
	if kind == store.AttachmentPage {
		att, err = h.Store.GetPageAgent(ctx, attachmentID)
	} else {
		att, err = h.Store.GetSectionAgent(ctx, attachmentID)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	pageID := att.PageID
	if kind == store.AttachmentSection {
		pageID, err = h.Store.GetSectionPageID(ctx, att.SectionID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if err := h.requirePage(c, pageID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runResponse(run))
}

// RunAll
//
//	@Summary	Queue runs for every enabled agent on a page
//	@Tags		agents
//	@Produce	json
//	@Param		id	path		int	true	"Page id"
//	@Success	202	{object}	RunAllResponse
//	@Router		/api/agents/pages/{id}/run-all [post]
func (h *AgentsHandler) runAll(c echo.Context) error {
	pageID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requirePage(c, pageID); err != nil {
		return err
	}
	ctx := c.Request().Context()
	batchID := uuid.NewString()
	queued := 0

	pageAtts, err := h.Store.ListPageAgents(ctx, pageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, att := range pageAtts {
		if !att.IsEnabled {
			continue
		}
		if _, err := h.Store.EnqueueRun(ctx, att.ID, store.AttachmentPage, nil, &batchID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		queued++
	}

	sectionAtts, err := h.Store.ListSectionAgentsForPage(ctx, pageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, att := range sectionAtts {
		if !att.IsEnabled {
			continue
		}
		sectionID := att.SectionID
		if _, err := h.Store.EnqueueRun(ctx, att.ID, store.AttachmentSection, &sectionID, &batchID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		queued++
	}
	return c.JSON(http.StatusAccepted, RunAllResponse{BatchID: batchID, Queued: queued})
}

// loadAttachment resolves the :kind/:id path pair, loads the attachment, and
// checks the caller's access to the owning page.
func (h *AgentsHandler) loadAttachment(c echo.Context) (store.AttachmentKind, store.Attachment, error) {
	var kind store.AttachmentKind
	switch c.Param("kind") {
	case "page":
		kind = store.AttachmentPage
	case "section":
		kind = store.AttachmentSection
	default:
		return "", store.Attachment{}, echo.NewHTTPError(http.StatusBadRequest, "kind must be page or section")
	}
	id, err := pathID(c, "id")
	if err != nil {
		return "", store.Attachment{}, err
	}

	ctx := c.Request().Context()
	var att store.Attachment
	if kind == store.AttachmentPage {
		att, err = h.Store.GetPageAgent(ctx, id)
	} else {
		att, err = h.Store.GetSectionAgent(ctx, id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", store.Attachment{}, echo.NewHTTPError(http.StatusNotFound, "attachment not found")
		}
		return "", store.Attachment{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	pageID := att.PageID
	if kind == store.AttachmentSection {
		pageID, err = h.Store.GetSectionPageID(ctx, att.SectionID)
		if err != nil {
			return "", store.Attachment{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if err := h.requirePage(c, pageID); err != nil {
		return "", store.Attachment{}, err
	}
	return kind, att, nil
}

func (h *AgentsHandler) requirePage(c echo.Context, pageID int64) error {
	page, err := h.Store.GetPage(c.Request().Context(), pageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "page not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.requireTeam(c, page.TeamID)
}

func (h *AgentsHandler) requireTeam(c echo.Context, teamID int64) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	member, err := h.Store.IsActiveMember(c.Request().Context(), userID, teamID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !member {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of the owning team")
	}
	return nil
}

func agentResponse(a store.AgentConfig) AgentResponse {
	return AgentResponse{
		ID:          a.ID,
		TeamID:      a.TeamID,
		Name:        a.Name,
		Description: a.Description,
		Visibility:  a.Visibility,
		EndpointURL: a.EndpointURL,
		HTTPMethod:  a.HTTPMethod,
		AuthType:    a.AuthType,
		Model:       a.Model,
	}
}

func runResponse(r store.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		Status:      r.Status,
		BatchID:     r.BatchID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Output:      r.Output,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
	}
}

func attachmentResponse(att store.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:            att.ID,
		AgentID:       att.AgentID,
		IsEnabled:     att.IsEnabled,
		LastRunStatus: att.LastRunStatus,
		LastRunAt:     att.LastRunAt,
	}
}

func attachmentResponses(atts []store.Attachment) []AttachmentResponse {
	out := make([]AttachmentResponse, 0, len(atts))
	for _, att := range atts {
		out = append(out, attachmentResponse(att))
	}
	return out
}
