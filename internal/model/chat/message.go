package chat

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded message in a conversation. Turns are never mutated
// after they are appended.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LastUserMessage returns the content of the most recent user turn in
// messages, as sent by chat clients that replay the whole transcript.
func LastUserMessage(messages []Turn) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
