package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/madlen/chatd/internal/domain"
)

func streamFromUpstream(t *testing.T, upstream http.HandlerFunc) ([]string, error) {
	t.Helper()
	ts := httptest.NewServer(upstream)
	defer ts.Close()

	client := NewClient(ts.URL, "sk-test", "http://localhost", "Test App", 30*time.Second)
	var deltas []string
	err := client.StreamChatCompletion(context.Background(), "test/model:free",
		[]domain.WireMessage{{Role: domain.RoleUser, Content: []domain.ContentPart{domain.TextPart("hi")}}},
		func(delta string) error {
			deltas = append(deltas, delta)
			return nil
		})
	return deltas, err
}

func TestStreamChatCompletionDecodesSSE(t *testing.T) {
	deltas, err := streamFromUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["stream"] != true {
			t.Errorf("expected stream:true, got %v", req["stream"])
		}
		if got := r.Header.Get("HTTP-Referer"); got != "http://localhost" {
			t.Errorf("missing referer header, got %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "Test App" {
			t.Errorf("missing title header, got %q", got)
		}

		io.WriteString(w, ": OPENROUTER PROCESSING\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
}

func TestStreamChatCompletionMessageContentFallback(t *testing.T) {
	deltas, err := streamFromUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		// Some providers put the text on message instead of delta.
		io.WriteString(w, "data: {\"choices\":[{\"message\":{\"content\":\"whole reply\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "whole reply" {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
}

func TestStreamChatCompletionInlineError(t *testing.T) {
	_, err := streamFromUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"error\":{\"code\":\"rate_limited\",\"message\":\"busy\"}}\n\n")
	})
	var relayErr *domain.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected RelayError, got %v", err)
	}
	if relayErr.Code != "rate_limited" || relayErr.Message != "busy" {
		t.Fatalf("unexpected inline error: %+v", relayErr)
	}
}

func TestStreamChatCompletionNon200Classified(t *testing.T) {
	_, err := streamFromUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key"}}`)
	})
	var relayErr *domain.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected RelayError, got %v", err)
	}
	if relayErr.Code != domain.ErrCodeUnauthorized {
		t.Fatalf("unexpected classification: %+v", relayErr)
	}
}

func TestStreamChatCompletionCleanEOFIsNil(t *testing.T) {
	deltas, err := streamFromUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"cut\"}}]}\n\n")
		// Connection drops without [DONE]; the caller synthesizes the
		// terminal on its side.
	})
	if err != nil {
		t.Fatalf("expected nil on clean EOF, got %v", err)
	}
	if len(deltas) != 1 {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
}

func TestHasKey(t *testing.T) {
	withKey := NewClient("http://x", "sk", "", "", time.Second)
	if !withKey.HasKey() {
		t.Fatal("expected HasKey true")
	}
	noKey := NewClient("http://x", "", "", "", time.Second)
	if noKey.HasKey() {
		t.Fatal("expected HasKey false")
	}
}

func TestModelIsFree(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		want  bool
	}{
		{"free suffix", Model{ID: "meta/llama:free"}, true},
		{"free suffix case insensitive", Model{ID: "meta/llama:FREE"}, true},
		{"all zero pricing", Model{ID: "x", Pricing: &Pricing{Prompt: "0", Completion: "0", Request: "0", Image: "0"}}, true},
		{"paid", Model{ID: "x", Pricing: &Pricing{Prompt: "0.01", Completion: "0", Request: "0", Image: "0"}}, false},
		{"no pricing no suffix", Model{ID: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.model.IsFree(); got != tt.want {
				t.Fatalf("IsFree() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListModels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"id":"a/model:free","name":"A"},{"id":"b/model","name":"B"}]}`)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk-test", "", "", 30*time.Second)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].ID != "a/model:free" {
		t.Fatalf("unexpected models: %+v", models)
	}
}
