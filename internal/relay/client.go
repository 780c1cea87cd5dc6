// Package relay hosts both sides of the token relay: the HTTP handler
// that proxies OpenRouter into a line-delimited JSON stream, and the
// client that consumes that stream.
package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/madlen/chatd/internal/domain"
)

// ErrAborted is returned by Stream when the caller's context was
// cancelled. No terminal event is delivered in that case; the caller
// owns the stopped finalize.
var ErrAborted = errors.New("stream aborted by caller")

// EventHandler is called for each decoded stream event.
type EventHandler func(event domain.StreamEvent) error

// Client opens relay streams.
type Client struct {
	streamURL  string
	httpClient *http.Client
}

// NewClient creates a relay client for the given stream endpoint URL.
func NewClient(streamURL string) *Client {
	return &Client{
		streamURL: streamURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for streaming
		},
	}
}

type streamRequest struct {
	Model    string               `json:"model"`
	Messages []domain.WireMessage `json:"messages"`
}

// Stream issues the relay request and decodes the NDJSON event stream.
// Unless the context is cancelled, the handler observes exactly one
// terminal event: the relay's own completed/llm_error line, a
// synthesized stream_error when the connection ends without one, or a
// network llm_error when the transport fails. After a terminal event no
// further events are delivered.
func (c *Client) Stream(ctx context.Context, model string, messages []domain.WireMessage, handler EventHandler) error {
	body, err := json.Marshal(streamRequest{Model: model, Messages: messages})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ErrAborted
		}
		return handler(domain.StreamEvent{
			Type:    domain.StreamEventLLMError,
			Code:    domain.ErrCodeNetwork,
			Message: err.Error(),
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handler(decodeFailure(resp))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event domain.StreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// Unparseable lines are keepalives, never fatal.
			continue
		}

		switch event.Type {
		case domain.StreamEventDelta:
			if err := handler(event); err != nil {
				return err
			}
		case domain.StreamEventCompleted:
			return handler(event)
		case domain.StreamEventLLMError:
			if event.Code == "" {
				event.Code = domain.ErrCodeStreamError
			}
			if event.Message == "" {
				event.Message = "Streaming error"
			}
			return handler(event)
		default:
			// Unknown event types are skipped like keepalives.
		}
	}

	if err := scanner.Err(); err != nil || ctx.Err() != nil {
		if ctx.Err() != nil {
			return ErrAborted
		}
		return handler(domain.StreamEvent{
			Type:    domain.StreamEventLLMError,
			Code:    domain.ErrCodeNetwork,
			Message: err.Error(),
		})
	}

	// Connection ended without a terminal event.
	return handler(domain.StreamEvent{
		Type:    domain.StreamEventLLMError,
		Code:    domain.ErrCodeStreamError,
		Message: "Streaming connection error",
	})
}

// decodeFailure turns a pre-stream non-2xx response into a terminal
// llm_error event, falling back to the stringified status.
func decodeFailure(resp *http.Response) domain.StreamEvent {
	event := domain.StreamEvent{
		Type:    domain.StreamEventLLMError,
		Code:    strconv.Itoa(resp.StatusCode),
		Message: fmt.Sprintf("Failed to start (%d)", resp.StatusCode),
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return event
	}
	var relayErr domain.RelayError
	if err := json.Unmarshal(body, &relayErr); err == nil {
		if relayErr.Code != "" {
			event.Code = relayErr.Code
		}
		if relayErr.Message != "" {
			event.Message = relayErr.Message
		}
		event.Detail = relayErr.Detail
	}
	return event
}
