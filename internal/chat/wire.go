// Package chat owns the turn pipeline: history-to-wire translation and
// the orchestrator that drives one assistant turn from placeholder to
// terminal state.
package chat

import "github.com/madlen/chatd/internal/domain"

// BuildWireMessages converts the ordered message history into the
// provider wire payload, excluding the just-created placeholder. Only
// the most recent user turn's image is sent, even when earlier turns
// also carried images. A message that yields no parts gets a single
// empty text part; the wire format requires non-empty content arrays.
func BuildWireMessages(messages []domain.Message, excludeID string) []domain.WireMessage {
	filtered := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID != excludeID {
			filtered = append(filtered, m)
		}
	}

	lastUserIndex := -1
	for i := len(filtered) - 1; i >= 0; i-- {
		if filtered[i].Role == domain.RoleUser {
			lastUserIndex = i
			break
		}
	}

	wire := make([]domain.WireMessage, 0, len(filtered))
	for i, m := range filtered {
		var parts []domain.ContentPart
		if m.Content != "" {
			parts = append(parts, domain.TextPart(m.Content))
		}
		if m.ImageDataURL != "" && i == lastUserIndex {
			parts = append(parts, domain.ImagePart(m.ImageDataURL))
		}
		if len(parts) == 0 {
			parts = []domain.ContentPart{domain.TextPart("")}
		}
		wire = append(wire, domain.WireMessage{Role: m.Role, Content: parts})
	}
	return wire
}
