package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/knowd-ai/knowd/pkg/agents"
	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/people"
	"github.com/knowd-ai/knowd/pkg/rag"
	"github.com/knowd-ai/knowd/pkg/store"
)

func (s *Server) listConversations(c echo.Context) error {
	orgID, err := resolveOrg(c, queryInt64(c, "org_id"))
	if err != nil {
		return s.respondError(c, err)
	}
	conversations, err := s.deps.Store.ListConversations(c.Request().Context(), orgID, session(c).UserID)
	if err != nil {
		return s.respondError(c, err)
	}
	if conversations == nil {
		conversations = []store.Conversation{}
	}
	return c.JSON(http.StatusOK, conversations)
}

func (s *Server) createConversation(c echo.Context) error {
	var req struct {
		OrgID int64  `json:"org_id"`
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Validation, err, "malformed request"))
	}
	orgID, err := resolveOrg(c, req.OrgID)
	if err != nil {
		return s.respondError(c, err)
	}

	now := time.Now().UTC()
	conversation := &store.Conversation{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		UserID:        session(c).UserID,
		Title:         strings.TrimSpace(req.Title),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := s.deps.Store.CreateConversation(c.Request().Context(), conversation); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"conversation_id": conversation.ID})
}

// ownedConversation loads a conversation scoped to both the session's tenant
// and user. Conversations are per-user; a colleague's id resolves to
// not-found rather than leaking its existence.
func (s *Server) ownedConversation(c echo.Context) (*store.Conversation, error) {
	conversation, err := s.deps.Store.GetConversation(c.Request().Context(), session(c).OrgID, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if conversation.UserID != session(c).UserID {
		return nil, store.ErrNotFound
	}
	return conversation, nil
}

func (s *Server) listMessages(c echo.Context) error {
	ctx := c.Request().Context()

	conversation, err := s.ownedConversation(c)
	if err != nil {
		return s.respondError(c, err)
	}
	messages, err := s.deps.Store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return s.respondError(c, err)
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

// chatSources is the grouped citation payload persisted with each assistant
// message and returned to the client.
type chatSources struct {
	Documents []rag.Source       `json:"documents"`
	Employees []people.Match     `json:"employees"`
	External  []agents.WebSource `json:"external"`
}

func (s *Server) postMessage(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Message string `json:"message"`
		UseRAG  bool   `json:"use_rag"`
	}
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, apperr.Wrap(apperr.Validation, err, "malformed request"))
	}
	if strings.TrimSpace(req.Message) == "" {
		return s.respondError(c, apperr.New(apperr.Validation, "message is required"))
	}

	conversation, err := s.ownedConversation(c)
	if err != nil {
		return s.respondError(c, err)
	}

	if err := s.deps.Store.AppendMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Role:           "user",
		Content:        req.Message,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return s.respondError(c, err)
	}

	var (
		answer     string
		confidence float64
		reasoning  []string
		sources    chatSources
	)
	if req.UseRAG {
		ragAnswer, err := s.deps.Engine.Answer(ctx, conversation.OrgID, req.Message)
		if err != nil {
			return s.respondError(c, err)
		}
		answer = ragAnswer.Text
		sources.Documents = ragAnswer.Sources
	} else {
		result, err := s.deps.Orchestrator.Respond(ctx, conversation.OrgID, req.Message)
		if err != nil {
			return s.respondError(c, err)
		}
		answer = result.Answer
		confidence = result.Confidence
		reasoning = result.Reasoning
		sources.Documents = result.Documents
		sources.Employees = result.Employees
		sources.External = result.External
	}
	if sources.Documents == nil {
		sources.Documents = []rag.Source{}
	}
	if sources.Employees == nil {
		sources.Employees = []people.Match{}
	}
	if sources.External == nil {
		sources.External = []agents.WebSource{}
	}

	rawSources, err := json.Marshal(sources)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := s.deps.Store.AppendMessage(ctx, &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversation.ID,
		Role:           "assistant",
		Content:        answer,
		Reasoning:      reasoning,
		Sources:        rawSources,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return s.respondError(c, err)
	}

	response := map[string]any{
		"answer":  answer,
		"sources": sources,
	}
	if !req.UseRAG {
		response["confidence"] = confidence
		response["reasoning_steps"] = reasoning
	}
	return c.JSON(http.StatusOK, response)
}

func (s *Server) archiveConversation(c echo.Context) error {
	return s.setArchived(c, true)
}

func (s *Server) unarchiveConversation(c echo.Context) error {
	return s.setArchived(c, false)
}

func (s *Server) setArchived(c echo.Context, archived bool) error {
	conversation, err := s.ownedConversation(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := s.deps.Store.SetConversationArchived(c.Request().Context(), session(c).OrgID, conversation.ID, archived); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
