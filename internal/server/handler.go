package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chatkeep/chatkeep/internal/chat"
	"github.com/chatkeep/chatkeep/internal/history"
	"github.com/chatkeep/chatkeep/internal/logger"
)

// Handler serves the chat and history endpoints.
type Handler struct {
	orchestrator *chat.Orchestrator
	store        history.Store
}

// NewHandler creates a Handler.
func NewHandler(orchestrator *chat.Orchestrator, store history.Store) *Handler {
	return &Handler{orchestrator: orchestrator, store: store}
}

// RegisterRoutes attaches all API routes to e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
	e.GET("/api/history", h.GetHistory)
	e.DELETE("/api/history", h.ClearHistory)
	e.GET("/healthz", h.Health)
}

type chatRequest struct {
	Message             string        `json:"message"`
	SessionID           string        `json:"sessionId"`
	ConversationHistory []hintMessage `json:"conversationHistory"`
}

// hintMessage is one entry of the optional client-side history copy.
type hintMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type chatResponse struct {
	Success bool        `json:"success"`
	Message chatMessage `json:"message"`
}

type historyResponse struct {
	Success  bool          `json:"success"`
	Messages []chatMessage `json:"messages"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Chat handles POST /api/chat: one conversational exchange.
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" || req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message and sessionId are required")
	}

	log := logger.L.With("request_id", uuid.NewString(), "session_id", req.SessionID)
	log.Info("chat request received")

	turn, err := h.orchestrator.Respond(c.Request().Context(), req.SessionID, req.Message, hintTurns(req))
	if err != nil {
		switch {
		case errors.Is(err, history.ErrInvalidArgument):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrUpstreamModel):
			log.Error("chat request failed", "error", err)
			// model errors surface verbatim; the caller gets no reply
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		default:
			log.Error("chat request failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}

	return c.JSON(http.StatusOK, chatResponse{
		Success: true,
		Message: chatMessage{
			Role:      string(turn.Role),
			Content:   turn.Content,
			Timestamp: turn.CreatedAt,
		},
	})
}

// hintTurns converts the untrusted client history into turns, dropping
// entries it cannot use. The hint is fallback input only, so bad entries are
// skipped rather than rejected.
func hintTurns(req chatRequest) []history.Turn {
	if len(req.ConversationHistory) == 0 {
		return nil
	}
	turns := make([]history.Turn, 0, len(req.ConversationHistory))
	for _, m := range req.ConversationHistory {
		role := history.Role(m.Role)
		if !role.Valid() || m.Content == "" {
			continue
		}
		turns = append(turns, history.Turn{
			SessionID: req.SessionID,
			Role:      role,
			Content:   m.Content,
		})
	}
	return turns
}

// GetHistory handles GET /api/history?sessionId=...
// A storage failure degrades to an empty history so the chat stays usable.
func (h *Handler) GetHistory(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}

	turns, err := h.store.List(c.Request().Context(), sessionID)
	if err != nil {
		logger.L.Warn("history read failed, returning empty history",
			"session_id", sessionID, "error", err)
		turns = nil
	}

	messages := make([]chatMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, chatMessage{
			Role:      string(turn.Role),
			Content:   turn.Content,
			Timestamp: turn.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, historyResponse{Success: true, Messages: messages})
}

// ClearHistory handles DELETE /api/history?sessionId=...
func (h *Handler) ClearHistory(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}

	if err := h.store.Clear(c.Request().Context(), sessionID); err != nil {
		logger.L.Error("history clear failed", "session_id", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear conversation history")
	}

	return c.JSON(http.StatusOK, statusResponse{Success: true, Message: "conversation history cleared"})
}

// Health handles GET /healthz.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
