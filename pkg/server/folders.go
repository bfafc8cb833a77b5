package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// getFolderView serves /api/folders/by-{facet}. The optional filter query
// parameter is named after the facet, e.g. /api/folders/by-team?team=Legal.
func (s *Server) getFolderView(c echo.Context) error {
	view := c.Param("view")
	facet := strings.TrimPrefix(view, "by-")
	if facet == view {
		return s.respondError(c, apperr.New(apperr.Validation, "unknown folder view %q", view))
	}
	orgID, err := resolveOrg(c, queryInt64(c, "org_id"))
	if err != nil {
		return s.respondError(c, err)
	}

	buckets, err := s.deps.Folders.View(c.Request().Context(), orgID, facet, c.QueryParam(facet))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"facet":   facet,
		"folders": buckets,
	})
}
