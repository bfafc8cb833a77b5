package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthCheckTimeout = 5 * time.Second

// getHealth probes each dependency independently. Any failing check degrades
// the status; a failing database or queue makes the service unhealthy.
func (s *Server) getHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{
		"database":     checkResult(s.deps.Store.Ping(ctx)),
		"queue":        checkResult(s.deps.Broker.Ping(ctx)),
		"vector_index": checkResult(s.deps.Index.Ping(ctx)),
	}
	if s.deps.LLMCheck != nil {
		checks["llm"] = checkResult(s.deps.LLMCheck(ctx))
	} else {
		checks["llm"] = "unconfigured"
	}

	status := "healthy"
	code := http.StatusOK
	for name, result := range checks {
		if result != "error" {
			continue
		}
		if name == "database" || name == "queue" {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else if status == "healthy" {
			status = "degraded"
		}
	}

	return c.JSON(code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func checkResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *Server) getSystemStatus(c echo.Context) error {
	stats, err := s.deps.Store.SystemStats(c.Request().Context(), session(c).OrgID)
	if err != nil {
		return s.respondError(c, err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetDocumentsTotal(stats.Documents)
	}
	return c.JSON(http.StatusOK, stats)
}
