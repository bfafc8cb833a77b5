// Package server exposes the HTTP API. Handlers validate input, enforce the
// tenant boundary and translate tagged errors to status codes; all real work
// happens in the domain packages behind small interfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/knowd-ai/knowd/pkg/agents"
	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/blob"
	"github.com/knowd-ai/knowd/pkg/folders"
	"github.com/knowd-ai/knowd/pkg/jobs"
	"github.com/knowd-ai/knowd/pkg/metrics"
	"github.com/knowd-ai/knowd/pkg/people"
	"github.com/knowd-ai/knowd/pkg/rag"
	"github.com/knowd-ai/knowd/pkg/store"
	"github.com/knowd-ai/knowd/pkg/vector"
)

// Submitter is the slice of the job executor the API tier uses.
type Submitter interface {
	Submit(ctx context.Context, orgID int64, taskType string, payload any) (*store.Job, error)
	Cancel(ctx context.Context, taskID string) error
}

// Answerer is the slice of the RAG engine the API tier uses.
type Answerer interface {
	Answer(ctx context.Context, orgID int64, query string) (*rag.Answer, error)
	Retrieve(ctx context.Context, orgID int64, query string, topK int) ([]rag.Source, error)
}

// EmployeeSearcher searches employee profile embeddings.
type EmployeeSearcher interface {
	Search(ctx context.Context, orgID int64, query string, topK int) ([]people.Match, error)
}

// Responder runs the multi-agent chat path.
type Responder interface {
	Respond(ctx context.Context, orgID int64, query string) (*agents.Result, error)
}

// Deps is everything the server needs, wired at startup and immutable after.
type Deps struct {
	Store        store.Store
	Blobs        blob.Store
	Index        vector.Index
	Broker       jobs.Broker
	Executor     Submitter
	Engine       Answerer
	People       EmployeeSearcher
	Folders      *folders.Service
	Orchestrator Responder
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	SessionSecret  []byte
	MaxUploadBytes int64

	// LLMCheck probes the generative model for the health endpoint.
	// Nil marks the check as unconfigured rather than failing it.
	LLMCheck func(ctx context.Context) error
}

type Server struct {
	e    *echo.Echo
	deps Deps
}

func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())
	if deps.MaxUploadBytes > 0 {
		// Per-file limits are enforced in the upload handler; this caps the
		// whole request body (up to maxUploadFiles files) with a 413.
		e.Use(middleware.BodyLimit(fmt.Sprintf("%d", deps.MaxUploadBytes*(maxUploadFiles+1))))
	}

	s := &Server{e: e, deps: deps}
	if deps.Metrics != nil {
		e.Use(s.observeRequests)
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// Health stays outside the session so load balancers can probe it.
	e.GET("/api/health", s.getHealth)

	group := e.Group("/api", s.requireSession)

	group.POST("/documents/upload", s.uploadDocuments)
	group.GET("/documents", s.listDocuments)
	group.GET("/documents/:id", s.getDocument)
	group.GET("/documents/:id/download", s.downloadDocument)
	group.DELETE("/documents/:id", s.deleteDocument)
	group.GET("/documents/:id/classification", s.getClassification)
	group.POST("/documents/:id/reclassify", s.reclassifyDocument)
	group.POST("/documents/search", s.searchDocuments)

	group.POST("/employees/search", s.searchEmployees)
	group.POST("/embeddings/generate", s.generateEmbedding)

	group.GET("/folders/:view", s.getFolderView)

	group.GET("/jobs/:id/status", s.getJobStatus)
	group.POST("/jobs/:id/cancel", s.cancelJob)

	group.GET("/chat/conversations", s.listConversations)
	group.POST("/chat/conversations", s.createConversation)
	group.GET("/chat/:id/messages", s.listMessages)
	group.POST("/chat/:id/messages", s.postMessage)
	group.POST("/chat/:id/archive", s.archiveConversation)
	group.POST("/chat/:id/unarchive", s.unarchiveConversation)

	group.GET("/system/status", s.getSystemStatus)

	return s
}

// Serve runs the server on ln until the context ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := http.Server{Handler: s.e}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) observeRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			status = apperr.HTTPStatus(err)
		}
		s.deps.Metrics.ObserveRequest(c.Request().Method, c.Path(), status, time.Since(started))
		return err
	}
}

// respondError translates a tagged error into the API's status contract.
// Untagged errors surface as an opaque 500; the cause stays in the log.
func (s *Server) respondError(c echo.Context, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		err = apperr.Wrap(apperr.NotFound, err, "not found")
	}
	status := apperr.HTTPStatus(err)

	msg := "internal error"
	var tagged *apperr.Error
	if errors.As(err, &tagged) && status < http.StatusInternalServerError {
		msg = tagged.Msg
	}
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", "error", err, "path", c.Path())
	}
	return c.JSON(status, map[string]string{"error": msg})
}
