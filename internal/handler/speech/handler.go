package speech

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/interview-sim/backend/internal/service/speech"
	"github.com/zhouzirui/interview-sim/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	EngineName() string
	Enabled() bool
	Format() speechmodel.AudioFormat
	SynthesizeRequest(ctx context.Context, req speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	logger    *slog.Logger
}

// New 创建语音处理器
func New(speechSvc SpeechService, logger *slog.Logger) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		logger:    logging.OrNop(logger).With("component", "speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleSynthesize 文本转语音，直接返回 WAV
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req speechmodel.TTSRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	resp, err := h.speechSvc.SynthesizeRequest(r.Context(), req)
	if errors.Is(err, speechsvc.ErrEngineUnavailable) {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech synthesis disabled")
		return
	}
	if err != nil {
		h.logger.Error("TTS error", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	if resp.Empty() {
		utils.RespondJSON(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Audio)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech.wav")
	w.Header().Set("X-Audio-Duration", strconv.FormatFloat(resp.Duration, 'f', 3, 64))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Audio); err != nil {
		h.logger.Debug("failed to write audio response", "err", err)
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"engine":  h.speechSvc.EngineName(),
		"enabled": h.speechSvc.Enabled(),
		"format":  h.speechSvc.Format(),
	})
}
