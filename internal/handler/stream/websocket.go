package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chathandler "github.com/zhouzirui/interview-sim/backend/internal/handler/chat"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/middleware"
	streamservice "github.com/zhouzirui/interview-sim/backend/internal/service/stream"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WebSocketHandler 在一条长连接上承载多轮对话，每个帧作为一条文本消息发送，
// 内容与 HTTP 流中的行相同（不含换行）。
type WebSocketHandler struct {
	binder   *chathandler.Binder
	mux      *streamservice.Multiplexer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器。allowedOrigins 与 CORS 配置一致，
// 白名单外的 Origin 在握手阶段以 403 拒绝。
func NewWebSocketHandler(binder *chathandler.Binder, mux *streamservice.Multiplexer, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		binder: binder,
		mux:    mux,
		logger: logging.OrNop(logger).With("component", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     middleware.NewOriginAllowlist(allowedOrigins).CheckOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 用户输入
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 切换人设或声音
type ConfigMessage struct {
	PersonaID chathandler.PersonaRef `json:"personaId"`
	Voice     string                 `json:"voice"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connectionState struct {
	sessionID  string
	personaRef string
	voice      string
}

func (s *connectionState) applyConfig(cfg ConfigMessage) {
	if cfg.PersonaID.Set() {
		s.personaRef = string(cfg.PersonaID)
	}
	if cfg.Voice != "" {
		s.voice = cfg.Voice
	}
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "session_id", sessionID, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	state := &connectionState{
		sessionID:  sessionID,
		personaRef: r.URL.Query().Get("persona_id"),
	}
	h.logger.Info("connection opened", "session_id", sessionID)

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	go h.pingLoop(ctx, conn)

	h.send(conn, outgoingMessage{Type: "connected", SessionID: sessionID})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", "session_id", sessionID, "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg inboundMessage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			h.sendError(conn, "invalid message")
			continue
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(conn, "session mismatch")
			continue
		}

		if !h.handleMessage(ctx, conn, state, &msg) {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// handleMessage returns false when the connection should be dropped.
func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) bool {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := sonic.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(conn, "invalid text payload")
			return true
		}
		if text.Text == "" {
			h.sendError(conn, chathandler.ErrNoUserMessage.Error())
			return true
		}
		return h.streamReply(ctx, conn, state, text.Text)
	case "config":
		var cfg ConfigMessage
		if err := sonic.Unmarshal(msg.Data, &cfg); err != nil {
			h.sendError(conn, "invalid config payload")
			return true
		}
		state.applyConfig(cfg)
		h.send(conn, outgoingMessage{
			Type:      "config",
			SessionID: state.sessionID,
			Data:      map[string]string{"personaId": state.personaRef, "voice": state.voice},
		})
		return true
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
		return true
	}
}

func (h *WebSocketHandler) streamReply(ctx context.Context, conn *websocket.Conn, state *connectionState, userText string) bool {
	binding := h.binder.BindSession(ctx, state.sessionID, state.personaRef)
	voice := binding.Voice
	if state.voice != "" {
		voice = state.voice
	}

	for frame := range h.mux.Frames(ctx, binding.Conversation, userText, voice) {
		line, err := frame.MarshalLine()
		if err != nil {
			h.logger.Error("encode frame failed", "session_id", state.sessionID, "err", err)
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(line, []byte("\n"))); err != nil {
			h.logger.Debug("write frame failed", "session_id", state.sessionID, "err", err)
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()
	payload, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message failed", "err", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Debug("write message failed", "err", err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, message string) {
	h.send(conn, outgoingMessage{Type: "error", Data: map[string]string{"message": message}})
}

// pingLoop 定期发送ping消息。WriteControl 可与其他写操作并发调用。
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
