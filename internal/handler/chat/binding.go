package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	chatmodel "github.com/zhouzirui/interview-sim/backend/internal/model/chat"
	"github.com/zhouzirui/interview-sim/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
)

// Request headers understood by the chat endpoints.
const (
	HeaderSessionID = "X-Session-Id"
	HeaderPersonaID = "X-Persona-Id"

	DefaultSessionID = "default"
)

// PersonaRef accepts a persona id sent as a JSON number or string.
type PersonaRef string

func (p *PersonaRef) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*p = ""
		return nil
	}
	*p = PersonaRef(strings.Trim(raw, `"`))
	return nil
}

// Set reports whether the reference names a persona. Ids start at 1, so an
// empty value or 0 counts as absent and the header is consulted instead.
func (p PersonaRef) Set() bool {
	ref := strings.TrimSpace(string(p))
	return ref != "" && ref != "0"
}

// Request 聊天请求体，messages 为前端回放的完整对话
type Request struct {
	Messages  []chatmodel.Turn `json:"messages"`
	PersonaID PersonaRef       `json:"persona_id"`
}

// ErrNoUserMessage 请求中没有 user 消息
var ErrNoUserMessage = errors.New("no user message provided")

// UserMessage returns the content of the last user message.
func (r Request) UserMessage() (string, error) {
	msg, ok := chatmodel.LastUserMessage(r.Messages)
	if !ok || strings.TrimSpace(msg) == "" {
		return "", ErrNoUserMessage
	}
	return msg, nil
}

// VoiceResolver maps a persona language to a voice.
type VoiceResolver interface {
	VoiceFor(language string) string
}

// Binding is the conversation and voice a request runs against.
type Binding struct {
	Conversation *chatservice.Conversation
	Persona      *persona.Persona
	Voice        string
}

// Binder resolves the session and persona of a chat request.
type Binder struct {
	sessions *chatservice.Registry
	personas persona.Store
	voices   VoiceResolver
	logger   *slog.Logger
}

// NewBinder voices may be nil, in which case the synthesizer's default is used.
func NewBinder(sessions *chatservice.Registry, personas persona.Store, voices VoiceResolver, logger *slog.Logger) *Binder {
	return &Binder{
		sessions: sessions,
		personas: personas,
		voices:   voices,
		logger:   logging.OrNop(logger).With("component", "chat"),
	}
}

// Bind returns the conversation for the request's session, creating it if
// needed. A persona id in the body wins over the header unless it is 0; a known persona
// installs its system prompt, an unknown one is ignored.
func (b *Binder) Bind(r *http.Request, body Request) Binding {
	sessionID := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	ref := string(body.PersonaID)
	if !body.PersonaID.Set() {
		ref = strings.TrimSpace(r.Header.Get(HeaderPersonaID))
	}
	return b.BindSession(r.Context(), sessionID, ref)
}

// BindSession is Bind for callers that already know the ids.
func (b *Binder) BindSession(ctx context.Context, sessionID, personaRef string) Binding {
	conv := b.sessions.GetOrCreate(sessionID)
	binding := Binding{Conversation: conv}

	p := b.lookup(ctx, personaRef)
	if p == nil {
		return binding
	}

	if conv.SetSystemPrompt(p.SystemPrompt) {
		b.logger.Info("persona applied", "session_id", sessionID, "persona_id", p.ID)
	}
	binding.Persona = p
	binding.Voice = b.VoiceFor(p.Language)
	return binding
}

// VoiceFor returns "" when no resolver is configured.
func (b *Binder) VoiceFor(language string) string {
	if b.voices == nil {
		return ""
	}
	return b.voices.VoiceFor(language)
}

func (b *Binder) lookup(ctx context.Context, ref string) *persona.Persona {
	if ref == "" {
		return nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		b.logger.Debug("ignoring malformed persona id", "persona_id", ref)
		return nil
	}
	p, err := b.personas.FindByID(ctx, id)
	if err != nil {
		b.logger.Debug("ignoring unknown persona", "persona_id", id, "err", err)
		return nil
	}
	return &p
}
