package domain

// ContentPart is one element of a wire message's content array, either a
// text part or an image_url part (OpenRouter shape).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps a data URL or remote URL for an image part.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// WireMessage is the provider-facing representation of one conversation
// turn: role plus a non-empty list of content parts.
type WireMessage struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// FreeModel is one entry of the deduplicated, label-sorted free model list.
type FreeModel struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	SupportsImages bool   `json:"supportsImages"`
}
