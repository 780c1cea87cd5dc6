package chat

import "strings"

const maxTitleLen = 60

// DeriveTitle builds a session title candidate from the first user text:
// whitespace trimmed and collapsed, capped at 60 characters. Returns ""
// when nothing usable remains.
func DeriveTitle(userText string) string {
	candidate := strings.Join(strings.Fields(userText), " ")
	if runes := []rune(candidate); len(runes) > maxTitleLen {
		candidate = string(runes[:maxTitleLen])
	}
	return candidate
}
