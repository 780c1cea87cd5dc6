// Package openrouter is the HTTP client for the upstream OpenRouter API:
// streaming chat completions plus the model catalog.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/madlen/chatd/internal/domain"
)

// Client is the OpenRouter API client.
type Client struct {
	baseURL    string
	apiKey     string
	referer    string
	title      string
	httpClient *http.Client
	rest       *resty.Client
}

// NewClient creates a new OpenRouter client. The referer and title are
// forwarded as the HTTP-Referer / X-Title attribution headers.
func NewClient(baseURL, apiKey, referer, title string, timeout time.Duration) *Client {
	base := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL: base,
		apiKey:  apiKey,
		referer: referer,
		title:   title,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rest: resty.New().SetBaseURL(base).SetTimeout(timeout),
	}
}

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.WireMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// streamChunk is one decoded SSE data payload from the completion stream.
type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *inlineError `json:"error"`
}

type inlineError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// StreamChatCompletion opens a streaming completion and calls onDelta for
// each content fragment in arrival order.
//
// A clean upstream EOF (or [DONE]) returns nil. A non-2xx response before
// any bytes stream returns the classified domain.RelayError. An error
// object inlined in the 200 stream also returns a domain.RelayError, with
// the provider's code when it carries one. Transport failures return the
// underlying error; the caller decides between aborted and network by
// inspecting its context.
func (c *Client) StreamChatCompletion(ctx context.Context, model string, messages []domain.WireMessage, onDelta func(delta string) error) error {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		relayErr := ClassifyFailure(resp.StatusCode, respBody)
		return &relayErr
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				return nil
			}
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Skip malformed chunks; keepalive comments are expected noise.
			continue
		}

		if chunk.Error != nil {
			code := domain.ErrCodeStreamError
			if len(chunk.Error.Code) > 0 {
				code = strings.Trim(string(chunk.Error.Code), `"`)
			}
			message := chunk.Error.Message
			if message == "" {
				message = "Provider error during stream."
			}
			return &domain.RelayError{Code: code, Message: message}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := ""
		if chunk.Choices[0].Delta != nil {
			delta = chunk.Choices[0].Delta.Content
		}
		if delta == "" && chunk.Choices[0].Message != nil {
			delta = chunk.Choices[0].Message.Content
		}
		if delta != "" {
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// Model is one entry of the OpenRouter model catalog.
type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CanonicalSlug string   `json:"canonical_slug"`
	Pricing       *Pricing `json:"pricing"`
	Architecture  *struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture"`
}

// Pricing holds the per-unit price strings OpenRouter reports.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Request    string `json:"request"`
	Image      string `json:"image"`
}

type modelsResponse struct {
	Data []Model `json:"data"`
}

// ListModels retrieves the model catalog.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var result modelsResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetResult(&result).
		Get("/models")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("models list failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Data, nil
}

// IsFree reports whether a model is usable without credit: either the id
// carries the :free suffix or every pricing dimension is zero.
func (m Model) IsFree() bool {
	if strings.HasSuffix(strings.ToLower(m.ID), ":free") {
		return true
	}
	p := m.Pricing
	if p == nil {
		return false
	}
	return p.Prompt == "0" && p.Completion == "0" && p.Request == "0" && p.Image == "0"
}

// FilterFree maps the catalog to the deduplicated, label-sorted free
// model list served to the UI.
func FilterFree(models []Model) []domain.FreeModel {
	seen := make(map[string]bool)
	var free []domain.FreeModel
	for _, m := range models {
		if !m.IsFree() || seen[m.ID] {
			continue
		}
		seen[m.ID] = true

		label := m.Name
		if label == "" {
			label = m.CanonicalSlug
		}
		if label == "" {
			label = m.ID
		}
		supportsImages := false
		if m.Architecture != nil {
			for _, mod := range m.Architecture.InputModalities {
				if mod == "image" {
					supportsImages = true
					break
				}
			}
		}
		free = append(free, domain.FreeModel{ID: m.ID, Label: label, SupportsImages: supportsImages})
	}
	sort.Slice(free, func(i, j int) bool { return free[i].Label < free[j].Label })
	return free
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
}
