package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"researchdesk/internal/runtime"
	"researchdesk/internal/store"
)

type SecuritiesHandler struct {
	Store *store.Store
}

func (h *SecuritiesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.PUT("", h.upsert)
	g.GET("", h.search)
}

// UpsertSecurity
//
//	@Summary	Load or refresh a reference instrument
//	@Tags		securities
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		UpsertSecurityRequest	true	"Security payload"
//	@Success	204		{string}	string					"No Content"
//	@Failure	400		{object}	HTTPError
//	@Router		/api/securities [put]
func (h *SecuritiesHandler) upsert(c echo.Context) error {
	var req UpsertSecurityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FIGI == "" || req.Ticker == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "figi and ticker required")
	}
	sec := store.Security{
		FIGI:         req.FIGI,
		Ticker:       req.Ticker,
		Name:         req.Name,
		SecurityType: req.SecurityType,
	}
	if err := h.Store.UpsertSecurity(c.Request().Context(), sec); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchSecurities
//
//	@Summary	Search instruments by ticker or name prefix
//	@Tags		securities
//	@Produce	json
//	@Param		q	query	string	true	"Search prefix"
//	@Success	200	{array}	SecurityResponse
//	@Router		/api/securities [get]
func (h *SecuritiesHandler) search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	secs, err := h.Store.SearchSecurities(c.Request().Context(), q, 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SecurityResponse, 0, len(secs))
	for _, s := range secs {
		out = append(out, SecurityResponse{
			FIGI:         s.FIGI,
			Ticker:       s.Ticker,
			Name:         s.Name,
			SecurityType: s.SecurityType,
		})
	}
	return c.JSON(http.StatusOK, out)
}
