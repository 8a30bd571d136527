package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/interview-sim/backend/internal/handler/chat"
	"github.com/zhouzirui/interview-sim/backend/internal/handler/persona"
	"github.com/zhouzirui/interview-sim/backend/internal/handler/speech"
	"github.com/zhouzirui/interview-sim/backend/internal/handler/stream"
	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/interview-sim/backend/internal/middleware"
	personaModel "github.com/zhouzirui/interview-sim/backend/internal/model/persona"
	chatService "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
	speechService "github.com/zhouzirui/interview-sim/backend/internal/service/speech"
	streamService "github.com/zhouzirui/interview-sim/backend/internal/service/stream"
	"github.com/zhouzirui/interview-sim/backend/pkg/utils"
)

// Dependencies 路由所需的服务
type Dependencies struct {
	Personas       personaModel.Store
	Sessions       *chatService.Registry
	Chat           streamService.Chatter
	Speech         *speechService.Service
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	// speech 为 nil 时流中不包含音频帧
	var synth streamService.Synthesizer
	var voices chat.VoiceResolver
	if deps.Speech != nil {
		synth = deps.Speech
		voices = deps.Speech
	}

	binder := chat.NewBinder(deps.Sessions, deps.Personas, voices, deps.Logger)
	mux := streamService.NewMultiplexer(deps.Chat, synth,
		streamService.WithLogger(deps.Logger),
		streamService.WithMetrics(deps.Metrics),
	)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Interview Simulator API"})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas, deps.Logger).RegisterRoutes(api)
		chat.New(deps.Sessions, deps.Personas, binder, deps.Chat, synth, deps.Logger).RegisterRoutes(api)
		stream.New(binder, mux, deps.Logger).RegisterRoutes(api)
		stream.NewWebSocketHandler(binder, mux, deps.AllowedOrigins, deps.Logger).RegisterRoutes(api)
		if deps.Speech != nil {
			speech.New(deps.Speech, deps.Logger).RegisterRoutes(api)
		}
	})

	return r
}
