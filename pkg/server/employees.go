package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/jobs"
	"github.com/knowd-ai/knowd/pkg/people"
)

const maxEmployeeTopK = 50

func (s *Server) searchEmployees(c echo.Context) error {
	var req struct {
		Query string `json:"query"`
		OrgID int64  `json:"org_id"`
		TopK  int    `json:"top_k"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Validation, err, "malformed request"))
	}
	if strings.TrimSpace(req.Query) == "" {
		return s.respondError(c, apperr.New(apperr.Validation, "query is required"))
	}
	if req.TopK < 0 {
		return s.respondError(c, apperr.New(apperr.Validation, "top_k must be non-negative"))
	}
	if req.TopK > maxEmployeeTopK {
		req.TopK = maxEmployeeTopK
	}
	orgID, err := resolveOrg(c, req.OrgID)
	if err != nil {
		return s.respondError(c, err)
	}

	matches, err := s.deps.People.Search(c.Request().Context(), orgID, req.Query, req.TopK)
	if err != nil {
		return s.respondError(c, err)
	}
	if matches == nil {
		matches = []people.Match{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"results_count": len(matches),
		"results":       matches,
	})
}

// generateEmbedding enqueues an employee profile embedding build. Only the
// profile's owner or a tenant admin may trigger it.
func (s *Server) generateEmbedding(c echo.Context) error {
	var req struct {
		OrgID  int64 `json:"org_id"`
		UserID int64 `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Validation, err, "malformed request"))
	}
	orgID, err := resolveOrg(c, req.OrgID)
	if err != nil {
		return s.respondError(c, err)
	}

	sess := session(c)
	userID := req.UserID
	if userID == 0 {
		userID = sess.UserID
	}
	if userID != sess.UserID && !sess.Admin {
		return s.respondError(c, apperr.New(apperr.Authorization, "access denied"))
	}

	job, err := s.deps.Executor.Submit(c.Request().Context(), orgID, jobs.TypeEmployeeEmbedding, jobs.EmployeePayload{UserID: userID})
	if err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Transient, err, "enqueue failed"))
	}
	return c.JSON(http.StatusOK, map[string]string{"task_id": job.ID})
}
