package stream

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	chathandler "github.com/zhouzirui/interview-sim/backend/internal/handler/chat"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	streamservice "github.com/zhouzirui/interview-sim/backend/internal/service/stream"
	"github.com/zhouzirui/interview-sim/backend/pkg/utils"
)

// Handler 以行帧的形式流式返回回复文本与音频
type Handler struct {
	binder *chathandler.Binder
	mux    *streamservice.Multiplexer
	logger *slog.Logger
}

// New creates a new stream handler
func New(binder *chathandler.Binder, mux *streamservice.Multiplexer, logger *slog.Logger) *Handler {
	return &Handler{
		binder: binder,
		mux:    mux,
		logger: logging.OrNop(logger).With("component", "stream"),
	}
}

// RegisterRoutes 注册流式聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat 请求体校验失败时返回普通 JSON 错误；响应头写出后只能通过帧报告错误。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chathandler.Request
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userMessage, err := body.UserMessage()
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	binding := h.binder.Bind(r, body)
	sessionID := binding.Conversation.ID()
	h.logger.Info("received message", "session_id", sessionID, "preview", preview(userMessage))

	utils.SetupStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for frame := range h.mux.Frames(ctx, binding.Conversation, userMessage, binding.Voice) {
		line, err := frame.MarshalLine()
		if err != nil {
			h.logger.Error("encode frame failed", "session_id", sessionID, "kind", frame.Kind, "err", err)
			return
		}
		if err := utils.WriteLine(w, flusher, line); err != nil {
			h.logger.Debug("client went away", "session_id", sessionID, "err", err)
			return
		}
	}
}

// preview 日志中只记录消息开头
func preview(s string) string {
	const limit = 50
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
