package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/madlen/chatd/internal/domain"
	"github.com/madlen/chatd/internal/openrouter"
)

const freeModelsCacheKey = "free_models"

// Handler serves the relay surface: the NDJSON chat stream and the free
// model list.
type Handler struct {
	provider *openrouter.Client
	cache    *gocache.Cache
	log      *zap.Logger
	tracer   trace.Tracer
}

// NewHandler creates a relay handler. modelsTTL bounds how long the free
// model list is served from cache.
func NewHandler(provider *openrouter.Client, modelsTTL time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		provider: provider,
		cache:    gocache.New(modelsTTL, 2*modelsTTL),
		log:      log,
		tracer:   otel.Tracer("chatd/relay"),
	}
}

// RegisterRoutes registers the relay routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat/stream", h.StreamChat)
	e.GET("/api/models/free", h.FreeModels)
}

type streamChatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.WireMessage `json:"messages"`
}

// StreamChat proxies a chat completion to OpenRouter and re-emits it as
// a line-delimited JSON stream of delta/completed/llm_error events.
// POST /api/chat/stream
func (h *Handler) StreamChat(c echo.Context) error {
	reqID := uuid.New().String()[:8]

	var req streamChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.RelayError{
			Code:    domain.ErrCodeBadRequest,
			Message: "model and messages are required.",
		})
	}

	ctx, span := h.tracer.Start(c.Request().Context(), "chat.stream")
	defer span.End()
	annotateSpan(span, req)

	if !h.provider.HasKey() {
		return c.JSON(http.StatusUnauthorized, domain.RelayError{
			Code:    domain.ErrCodeMissingKey,
			Message: "OPENROUTER_API_KEY is not set on the server.",
		})
	}
	if req.Model == "" || len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, domain.RelayError{
			Code:    domain.ErrCodeBadRequest,
			Message: "model and messages are required.",
		})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson; charset=utf-8")
	resp.Header().Set("Cache-Control", "no-cache, no-transform")
	resp.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(resp)
	send := func(event domain.StreamEvent) {
		if err := enc.Encode(event); err != nil {
			return
		}
		resp.Flush()
	}

	err := h.provider.StreamChatCompletion(ctx, req.Model, req.Messages, func(delta string) error {
		send(domain.StreamEvent{Type: domain.StreamEventDelta, Delta: delta})
		return nil
	})

	switch {
	case err == nil:
		send(domain.StreamEvent{Type: domain.StreamEventCompleted})
	case isRelayError(err):
		var relayErr *domain.RelayError
		errors.As(err, &relayErr)
		h.log.Warn("provider failure during stream",
			zap.String("request_id", reqID),
			zap.String("model", req.Model),
			zap.String("code", relayErr.Code))
		send(domain.StreamEvent{
			Type:    domain.StreamEventLLMError,
			Code:    relayErr.Code,
			Message: relayErr.Message,
			Detail:  relayErr.Detail,
		})
	case ctx.Err() != nil:
		send(domain.StreamEvent{
			Type:    domain.StreamEventLLMError,
			Code:    domain.ErrCodeAborted,
			Message: "Request was aborted.",
		})
	default:
		h.log.Warn("network failure during stream",
			zap.String("request_id", reqID),
			zap.String("model", req.Model),
			zap.Error(err))
		send(domain.StreamEvent{
			Type:    domain.StreamEventLLMError,
			Code:    domain.ErrCodeNetwork,
			Message: err.Error(),
		})
	}

	return nil
}

// FreeModels serves the free model list, cached per the configured TTL.
// GET /api/models/free
func (h *Handler) FreeModels(c echo.Context) error {
	if cached, ok := h.cache.Get(freeModelsCacheKey); ok {
		return c.JSON(http.StatusOK, map[string]interface{}{"data": cached})
	}

	models, err := h.provider.ListModels(c.Request().Context())
	if err != nil {
		h.log.Warn("models list fetch failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":  "failed_models_list",
			"detail": err.Error(),
		})
	}

	free := openrouter.FilterFree(models)
	h.cache.SetDefault(freeModelsCacheKey, free)
	return c.JSON(http.StatusOK, map[string]interface{}{"data": free})
}

func isRelayError(err error) bool {
	var relayErr *domain.RelayError
	return errors.As(err, &relayErr)
}

// annotateSpan records the model and a truncated view of the last
// message on the stream span.
func annotateSpan(span trace.Span, req streamChatRequest) {
	span.SetAttributes(attribute.String("chat.model", req.Model))
	if len(req.Messages) == 0 {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	lastText := "N/A"
	hasImage := false
	for _, part := range last.Content {
		if part.Type == "text" && part.Text != "" && lastText == "N/A" {
			lastText = part.Text
		}
		if part.Type == "image_url" {
			hasImage = true
		}
	}
	span.SetAttributes(
		attribute.String("chat.last_message.text.content", truncateAttr(lastText)),
		attribute.Bool("chat.last_message.has_image", hasImage),
	)
}

// truncateAttr caps an attribute value at 512 runes. Rune slicing keeps
// the result valid UTF-8.
func truncateAttr(s string) string {
	runes := []rune(s)
	if len(runes) <= 512 {
		return s
	}
	return string(runes[:509]) + "..."
}
