package chat

import "time"

// Session is a read-only view of a conversation held by the registry.
type Session struct {
	ID           string    `json:"id"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Fresh        bool      `json:"fresh"`
	Turns        []Turn    `json:"turns"`
	LastUsed     time.Time `json:"lastUsed"`
}
