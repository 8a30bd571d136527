package persona

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/model/persona"
	"github.com/zhouzirui/interview-sim/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	logger   *slog.Logger
}

// New 创建persona处理器
func New(personas persona.Store, logger *slog.Logger) *Handler {
	return &Handler{
		personas: personas,
		logger:   logging.OrNop(logger).With("component", "persona"),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/personas", func(pr chi.Router) {
		pr.Get("/", h.handleListPersonas)
		pr.Post("/", h.handleCreatePersona)
		pr.Get("/{personaID}", h.handleGetPersona)
		pr.Put("/{personaID}", h.handleUpdatePersona)
		pr.Delete("/{personaID}", h.handleDeletePersona)
	})
}

// handleListPersonas 列出所有persona，最新的在前
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.personas.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if personas == nil {
		personas = []persona.Persona{}
	}
	utils.RespondJSON(w, http.StatusOK, personas)
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	id, ok := personaID(w, r)
	if !ok {
		return
	}
	p, err := h.personas.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var in persona.CreateInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.personas.Create(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("persona created", "persona_id", p.ID, "name", p.Name)
	utils.RespondJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := personaID(w, r)
	if !ok {
		return
	}
	var in persona.UpdateInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.personas.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	id, ok := personaID(w, r)
	if !ok {
		return
	}
	if err := h.personas.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("persona deleted", "persona_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// fail 将存储层错误映射为 HTTP 状态码
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var verr *persona.ValidationError
	switch {
	case errors.Is(err, persona.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		utils.RespondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})
	default:
		h.logger.Error("persona store error", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "persona store error")
	}
}

func personaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "personaID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "persona id must be an integer")
		return 0, false
	}
	return id, true
}
