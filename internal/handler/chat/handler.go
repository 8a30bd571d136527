package chat

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
	speechservice "github.com/zhouzirui/interview-sim/backend/internal/service/speech"
	"github.com/zhouzirui/interview-sim/backend/internal/service/stream"
	"github.com/zhouzirui/interview-sim/backend/pkg/utils"
)

// Handler 会话与非流式聊天的HTTP处理器
type Handler struct {
	sessions *chatservice.Registry
	personas persona.Store
	binder   *Binder
	chat     stream.Chatter
	speech   stream.Synthesizer
	logger   *slog.Logger
}

// New 创建聊天处理器。speech 为 nil 时只返回文本。
func New(sessions *chatservice.Registry, personas persona.Store, binder *Binder, chat stream.Chatter, speech stream.Synthesizer, logger *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		personas: personas,
		binder:   binder,
		chat:     chat,
		speech:   speech,
		logger:   logging.OrNop(logger).With("component", "chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Delete("/session/{sessionID}", h.handleDeleteSession)
	r.Get("/initial", h.handleInitial)
	r.Post("/chat/simple", h.handleSimpleChat)
}

// ReplyResponse 非流式回复
type ReplyResponse struct {
	Text     string  `json:"text"`
	Audio    *string `json:"audio"`
	Duration float64 `json:"duration"`
}

// InitialResponse 开场白
type InitialResponse struct {
	ReplyResponse
	PersonaID   int64  `json:"persona_id"`
	PersonaName string `json:"persona_name"`
}

// handleCreateSession 分配新的会话ID
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := chatservice.NewSessionID()
	h.sessions.GetOrCreate(id)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	conv, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv.Snapshot())
}

// handleDeleteSession 删除会话。会话不存在时同样返回 ok。
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if h.sessions.Delete(id) {
		h.logger.Info("session cleared", "session_id", id)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInitial 返回人设的开场白及其音频。未指定 persona_id 时使用最新的人设。
func (h *Handler) handleInitial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var p persona.Persona
	if raw := strings.TrimSpace(r.URL.Query().Get("persona_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "persona_id must be an integer")
			return
		}
		p, err = h.personas.FindByID(ctx, id)
		if errors.Is(err, persona.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "Persona with id "+raw+" not found")
			return
		}
		if err != nil {
			h.logger.Error("load persona failed", "persona_id", id, "err", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load persona")
			return
		}
	} else {
		list, err := h.personas.List(ctx)
		if err != nil {
			h.logger.Error("list personas failed", "err", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load personas")
			return
		}
		if len(list) == 0 {
			utils.RespondError(w, http.StatusNotFound, "No personas found")
			return
		}
		p = list[0]
	}

	utils.RespondJSON(w, http.StatusOK, InitialResponse{
		ReplyResponse: h.reply(r, p.InitialMessage, h.binder.VoiceFor(p.Language)),
		PersonaID:     p.ID,
		PersonaName:   p.Name,
	})
}

// handleSimpleChat 非流式聊天：一次返回文本与音频
func (h *Handler) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	var body Request
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userMessage, err := body.UserMessage()
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	binding := h.binder.Bind(r, body)
	text, err := h.chat.Chat(r.Context(), binding.Conversation, userMessage)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.reply(r, text, binding.Voice))
}

// reply 合成失败时 audio 为 null，duration 为 0
func (h *Handler) reply(r *http.Request, text, voice string) ReplyResponse {
	out := ReplyResponse{Text: text}
	if h.speech == nil {
		return out
	}

	resp, err := h.speech.Synthesize(r.Context(), text, voice)
	switch {
	case errors.Is(err, speechservice.ErrEngineUnavailable):
		return out
	case err != nil:
		h.logger.Error("error generating audio", "err", err)
		return out
	case resp.Empty():
		return out
	}

	encoded := base64.StdEncoding.EncodeToString(resp.Audio)
	out.Audio = &encoded
	out.Duration = resp.Duration
	return out
}
