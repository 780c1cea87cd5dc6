package openrouter

import (
	"encoding/json"
	"fmt"

	"github.com/madlen/chatd/internal/domain"
)

type failureBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// ClassifyFailure maps an upstream non-2xx response to the stable
// {code, message} taxonomy. Unrecognized statuses keep the stringified
// status code and the provider's own message when one can be extracted.
func ClassifyFailure(status int, body []byte) domain.RelayError {
	rawMsg := fmt.Sprintf("OpenRouter error (%d)", status)
	var parsed failureBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != nil && parsed.Error.Message != "" {
			rawMsg = parsed.Error.Message
		} else if parsed.Message != "" {
			rawMsg = parsed.Message
		}
	}

	var detail json.RawMessage
	if json.Valid(body) {
		detail = json.RawMessage(body)
	}

	code := fmt.Sprintf("%d", status)
	message := rawMsg

	switch {
	case status == 401:
		code = domain.ErrCodeUnauthorized
		message = "Unauthorized: missing or invalid OpenRouter API key."
	case status == 402:
		code = domain.ErrCodePayment
		message = "Payment required: your OpenRouter account has no credit for this model."
	case status == 404:
		code = domain.ErrCodeModelNotFound
		message = "Model not found or unavailable. Pick another model."
	case status == 429:
		code = domain.ErrCodeRateLimited
		message = "Rate limited by provider. Please wait a bit or try a free/less busy model."
	case status >= 500:
		code = domain.ErrCodeUpstream5xx
		message = "Provider is having an issue. Please retry shortly."
	}

	return domain.RelayError{Code: code, Message: message, Detail: detail}
}
