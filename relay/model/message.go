package model

import "strings"

type Message struct {
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// StringContent flattens the message content. Array content contributes its text parts only.
func (m Message) StringContent() string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []any:
		var sb strings.Builder
		for _, item := range content {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}
