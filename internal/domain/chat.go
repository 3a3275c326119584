package domain

// ChatMessage is the provider-agnostic chat message shape sent to the proxy
// endpoint and accepted by the Lambda chat route.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessages converts a turn history into wire messages, preserving order.
func ChatMessages(turns []Turn) []ChatMessage {
	out := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, ChatMessage{Role: string(t.Role), Content: t.Text})
	}
	return out
}

// TurnsFromMessages is the inverse of ChatMessages. Unknown roles are mapped
// to user turns.
func TurnsFromMessages(msgs []ChatMessage) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		role := Role(m.Role)
		if !role.Valid() {
			role = RoleUser
		}
		out = append(out, Turn{Role: role, Text: m.Content})
	}
	return out
}
