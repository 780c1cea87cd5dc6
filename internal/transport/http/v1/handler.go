// Package v1 exposes the chat API surface consumed by the web UI.
package v1

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/madlen/chatd/internal/chat"
	"github.com/madlen/chatd/internal/store"
)

// Handler holds the dependencies for the v1 routes.
type Handler struct {
	store store.Store
	orch  *chat.Orchestrator
	log   *zap.Logger
}

// NewHandler creates a new v1 handler.
func NewHandler(st store.Store, orch *chat.Orchestrator, log *zap.Logger) *Handler {
	return &Handler{store: st, orch: orch, log: log}
}

// RegisterRoutes registers the v1 routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.POST("/v1/sessions/:session_id/turns", h.StartTurn)
	e.POST("/v1/turns/stop", h.StopTurn)
}
