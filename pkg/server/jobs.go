package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/store"
)

func (s *Server) getJobStatus(c echo.Context) error {
	job, err := s.deps.Store.GetJob(c.Request().Context(), session(c).OrgID, c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// cancelJob raises the cooperative cancellation flag. A job already past its
// last checkpoint finishes anyway; the flag is a request, not a guarantee.
func (s *Server) cancelJob(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	job, err := s.deps.Store.GetJob(ctx, session(c).OrgID, id)
	if err != nil {
		return s.respondError(c, err)
	}
	if job.Status == store.JobCompleted || job.Status == store.JobFailed {
		return s.respondError(c, apperr.New(apperr.Conflict, "job already %s", job.Status))
	}
	if err := s.deps.Executor.Cancel(ctx, id); err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Transient, err, "cancel failed"))
	}
	return c.NoContent(http.StatusNoContent)
}
