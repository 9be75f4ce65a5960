package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"researchdesk/internal/runtime"
	"researchdesk/internal/store"
)

type TeamsHandler struct {
	Store *store.Store
}

func (h *TeamsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
}

// CreateTeam
//
//	@Summary	Create a team
//	@Tags		teams
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		CreateTeamRequest	true	"Team payload"
//	@Success	201		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/teams [post]
func (h *TeamsHandler) create(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	var req CreateTeamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name required")
	}
	id, err := h.Store.CreateTeam(c.Request().Context(), userID, req.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// ListTeams
//
//	@Summary	List teams the caller belongs to
//	@Tags		teams
//	@Produce	json
//	@Success	200	{array}	TeamResponse
//	@Router		/api/teams [get]
func (h *TeamsHandler) list(c echo.Context) error {
	userID, ok := runtime.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	teams, err := h.Store.ListTeamsForUser(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TeamResponse, 0, len(teams))
	for _, t := range teams {
		out = append(out, TeamResponse{ID: t.ID, Name: t.Name})
	}
	return c.JSON(http.StatusOK, out)
}

// pathID parses a :param path segment as int64.
func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// queryID parses a required query parameter as int64.
func queryID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.QueryParam(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
