package chat

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/interview-sim/backend/internal/model/chat"
)

// CompleteFunc performs one provider round trip for the outbound messages.
type CompleteFunc func(ctx context.Context, messages []*schema.Message) (string, error)

// Conversation is the per-session state machine. A fresh conversation sends
// its system prompt (if any) with the next user message; once an exchange
// succeeds it becomes active and replays history instead. Changing the system
// prompt makes it fresh again so the new prompt is delivered once.
type Conversation struct {
	id string

	// turnMu serializes exchanges and prompt changes on this session.
	turnMu sync.Mutex

	mu           sync.RWMutex
	systemPrompt string
	history      []chat.Turn
	fresh        bool
	lastUsed     time.Time

	now func() time.Time
}

func newConversation(id string, now func() time.Time) *Conversation {
	return &Conversation{id: id, fresh: true, lastUsed: now(), now: now}
}

// ID returns the session id this conversation is bound to.
func (c *Conversation) ID() string {
	return c.id
}

// SetSystemPrompt stores prompt and resets the conversation to fresh when it
// differs from the current one. History is kept. It waits for any in-flight
// exchange on the session to finish.
func (c *Conversation) SetSystemPrompt(prompt string) bool {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt == c.systemPrompt {
		return false
	}
	c.systemPrompt = prompt
	c.fresh = true
	return true
}

// BuildPrompt returns the outbound message list for userMessage without
// changing any state.
func (c *Conversation) BuildPrompt(userMessage string) []*schema.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.fresh {
		messages := make([]*schema.Message, 0, 2)
		if c.systemPrompt != "" {
			messages = append(messages, schema.SystemMessage(c.systemPrompt))
		}
		return append(messages, schema.UserMessage(userMessage))
	}

	messages := make([]*schema.Message, 0, len(c.history)+1)
	for _, turn := range c.history {
		messages = append(messages, toMessage(turn))
	}
	return append(messages, schema.UserMessage(userMessage))
}

// AppendTurn records one message. Callers append only after a successful
// exchange, user turn first.
func (c *Conversation) AppendTurn(role chat.Role, content string) {
	c.mu.Lock()
	c.history = append(c.history, chat.Turn{Role: role, Content: content})
	c.mu.Unlock()
}

// Exchange builds the prompt for userMessage, runs call, and on success
// records the user and assistant turns and marks the conversation active.
// A failed call leaves the conversation untouched.
func (c *Conversation) Exchange(ctx context.Context, userMessage string, call CompleteFunc) (string, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	c.touch(c.now())
	reply, err := call(ctx, c.BuildPrompt(userMessage))
	if err != nil {
		return "", err
	}

	c.AppendTurn(chat.RoleUser, userMessage)
	c.AppendTurn(chat.RoleAssistant, reply)

	c.mu.Lock()
	c.fresh = false
	c.mu.Unlock()
	return reply, nil
}

// Fresh reports whether the next exchange will carry the system prompt.
func (c *Conversation) Fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh
}

// SystemPrompt returns the current system prompt, empty when unset.
func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemPrompt
}

// History returns a copy of the recorded turns.
func (c *Conversation) History() []chat.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chat.Turn(nil), c.history...)
}

// Snapshot returns a read-only view for inspection endpoints.
func (c *Conversation) Snapshot() chat.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return chat.Session{
		ID:           c.id,
		SystemPrompt: c.systemPrompt,
		Fresh:        c.fresh,
		Turns:        append([]chat.Turn{}, c.history...),
		LastUsed:     c.lastUsed,
	}
}

func (c *Conversation) touch(now time.Time) {
	c.mu.Lock()
	c.lastUsed = now
	c.mu.Unlock()
}

func (c *Conversation) idleSince() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUsed
}

func toMessage(turn chat.Turn) *schema.Message {
	switch turn.Role {
	case chat.RoleSystem:
		return schema.SystemMessage(turn.Content)
	case chat.RoleAssistant:
		return schema.AssistantMessage(turn.Content, nil)
	default:
		return schema.UserMessage(turn.Content)
	}
}
