package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/madlen/chatd/internal/chat"
)

type startTurnRequest struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	ImageDataURL string `json:"image_data_url,omitempty"`
}

// StartTurn starts a streaming turn for a session. Refused with 409
// while another turn is streaming.
// POST /v1/sessions/:session_id/turns
func (h *Handler) StartTurn(c echo.Context) error {
	sessionID := c.Param("session_id")

	var req startTurnRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
	}

	result, err := h.orch.Start(c.Request().Context(), chat.StartRequest{
		SessionID:    sessionID,
		Model:        req.Model,
		UserText:     req.Text,
		ImageDataURL: req.ImageDataURL,
	})
	if errors.Is(err, chat.ErrTurnActive) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "Already generating. Stop or wait to send another message.",
		})
	}
	if err != nil {
		h.log.Warn("start turn failed", zap.String("session_id", sessionID), zap.Error(err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"user_message_id":      result.UserMessageID,
		"assistant_message_id": result.AssistantMessageID,
	})
}

// StopTurn stops the active turn. No-op when nothing is streaming.
// POST /v1/turns/stop
func (h *Handler) StopTurn(c echo.Context) error {
	h.orch.Stop()
	return c.NoContent(http.StatusNoContent)
}
