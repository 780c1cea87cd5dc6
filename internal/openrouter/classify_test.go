package openrouter

import (
	"strings"
	"testing"

	"github.com/madlen/chatd/internal/domain"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"unauthorized", 401, `{"error":{"message":"No auth"}}`, domain.ErrCodeUnauthorized},
		{"payment required", 402, `{}`, domain.ErrCodePayment},
		{"model not found", 404, `{"error":{"message":"No endpoints found"}}`, domain.ErrCodeModelNotFound},
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, domain.ErrCodeRateLimited},
		{"server error", 500, ``, domain.ErrCodeUpstream5xx},
		{"bad gateway", 502, `oops`, domain.ErrCodeUpstream5xx},
		{"unmapped status keeps code", 418, `{"message":"teapot"}`, "418"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyFailure(tt.status, []byte(tt.body))
			if got.Code != tt.wantCode {
				t.Fatalf("ClassifyFailure(%d) code = %q, want %q", tt.status, got.Code, tt.wantCode)
			}
			if got.Message == "" {
				t.Fatalf("ClassifyFailure(%d) returned empty message", tt.status)
			}
		})
	}
}

func TestClassifyFailureExtractsProviderMessage(t *testing.T) {
	got := ClassifyFailure(418, []byte(`{"error":{"message":"from error object"}}`))
	if got.Message != "from error object" {
		t.Fatalf("expected nested error message, got %q", got.Message)
	}

	got = ClassifyFailure(418, []byte(`{"message":"top level"}`))
	if got.Message != "top level" {
		t.Fatalf("expected top-level message, got %q", got.Message)
	}

	got = ClassifyFailure(418, []byte(`not json`))
	if !strings.Contains(got.Message, "418") {
		t.Fatalf("expected status fallback message, got %q", got.Message)
	}
	if got.Detail != nil {
		t.Fatalf("non-JSON body must not be carried as detail, got %s", got.Detail)
	}
}

func TestClassifyFailureKeepsBodyAsDetail(t *testing.T) {
	body := `{"error":{"message":"slow down","metadata":{"provider":"x"}}}`
	got := ClassifyFailure(429, []byte(body))
	if string(got.Detail) != body {
		t.Fatalf("expected raw body as detail, got %s", got.Detail)
	}
}
