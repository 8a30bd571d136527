package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
)

const volcengineEngineName = "volcengine"

// VolcengineEngine 火山引擎单向流式 TTS (WebSocket v3)
type VolcengineEngine struct {
	endpoint   string
	appID      string
	token      string
	resourceID string
	sampleRate int
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// NewVolcengineEngine 创建火山引擎 TTS 引擎，音频格式固定为 PCM。
func NewVolcengineEngine(cfg config.SpeechConfig, logger *slog.Logger) *VolcengineEngine {
	return &VolcengineEngine{
		endpoint:   cfg.Endpoint,
		appID:      strings.TrimSpace(cfg.AppID),
		token:      strings.TrimSpace(cfg.AccessToken),
		resourceID: strings.TrimSpace(cfg.ResourceID),
		sampleRate: cfg.SampleRate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger:     logging.OrNop(logger).With("component", "speech", "engine", volcengineEngineName),
	}
}

func (e *VolcengineEngine) Name() string {
	return volcengineEngineName
}

// credentials 缺失时给出明确错误
func (e *VolcengineEngine) credentials() error {
	if e.appID == "" || e.token == "" {
		return errors.New("volcengine speech config requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
	}
	return nil
}

func (e *VolcengineEngine) Stream(ctx context.Context, req speechmodel.TTSRequest) (*schema.StreamReader[[]byte], error) {
	if err := e.credentials(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Voice) == "" {
		return nil, errors.New("volcengine synthesis requires a voice")
	}

	reader, writer := schema.Pipe[[]byte](8)
	go func() {
		defer writer.Close()

		var lastErr error
		for _, resourceID := range e.resourceCandidates(req.Voice) {
			sent, err := e.synthesize(ctx, resourceID, req, writer)
			if err == nil {
				return
			}
			lastErr = err
			// a different resource can only be tried before audio went out
			if sent > 0 || !isResourceMismatchError(err) {
				break
			}
			e.logger.Warn("voice resource mismatch, trying next resource", "voice", req.Voice, "resource_id", resourceID)
		}
		writer.Send(nil, lastErr)
	}()
	return reader, nil
}

// synthesize runs one request against resourceID and forwards audio chunks.
// It returns how many chunks were sent.
func (e *VolcengineEngine) synthesize(ctx context.Context, resourceID string, req speechmodel.TTSRequest, out *schema.StreamWriter[[]byte]) (int, error) {
	conn, err := e.dial(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	// unblock ReadMessage when the caller goes away
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := sonic.Marshal(e.buildRequest(req))
	if err != nil {
		return 0, fmt.Errorf("marshal tts request: %w", err)
	}
	request, err := newClientRequest(payload, compressionNone)
	if err != nil {
		return 0, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodeFrame(request)); err != nil {
		return 0, fmt.Errorf("send tts request: %w", err)
	}

	sent := 0
	forward := func(chunk []byte) bool {
		if len(chunk) == 0 {
			return true
		}
		if closed := out.Send(chunk, nil); closed {
			return false
		}
		sent++
		return true
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sent, ctxErr
			}
			return sent, fmt.Errorf("read tts response: %w", err)
		}

		msg, err := decodeFrame(data)
		if err != nil {
			return sent, fmt.Errorf("decode tts message: %w", err)
		}

		switch msg.Type {
		case msgError:
			detail, _ := msg.payload()
			return sent, fmt.Errorf("tts error %d: %s", msg.ErrorCode, string(detail))

		case msgAudioOnlyResponse:
			chunk, err := msg.payload()
			if err != nil {
				return sent, fmt.Errorf("decompress audio chunk: %w", err)
			}
			if !forward(chunk) {
				return sent, nil
			}
			if msg.last() {
				return sent, nil
			}

		case msgFullServerResponse:
			body, err := msg.payload()
			if err != nil {
				return sent, fmt.Errorf("decompress tts response: %w", err)
			}

			var resp ttsServerMessage
			if len(body) > 0 {
				if err := sonic.Unmarshal(body, &resp); err != nil {
					e.logger.Debug("ignoring undecodable tts payload", "err", err)
				} else {
					if !isSuccessCode(resp.Code) {
						return sent, fmt.Errorf("tts api error %d: %s", resp.Code, resp.Message)
					}
					if resp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(resp.Data)
						if err != nil {
							return sent, fmt.Errorf("decode base64 audio chunk: %w", err)
						}
						if !forward(chunk) {
							return sent, nil
						}
					}
				}
			}

			if msg.hasEvent() && msg.Event == eventSessionFailed {
				return sent, fmt.Errorf("tts session failed: %s", string(body))
			}
			if (msg.hasEvent() && msg.Event == eventSessionFinished) || msg.last() || resp.Sequence < 0 {
				return sent, nil
			}

		default:
			e.logger.Debug("unexpected tts message type", "type", msg.Type)
		}
	}
}

func (e *VolcengineEngine) dial(ctx context.Context, resourceID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-Api-App-Key", e.appID)
	header.Set("X-Api-Access-Key", e.token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := e.dialer.DialContext(ctx, e.endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to tts websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to tts websocket: %w", err)
	}
	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		e.logger.Debug("tts connected", "logid", logid, "resource_id", resourceID)
	}
	return conn, nil
}

func (e *VolcengineEngine) buildRequest(req speechmodel.TTSRequest) *volcengineTTSRequest {
	out := &volcengineTTSRequest{}
	out.User.UID = uuid.NewString()
	out.ReqParams.Speaker = req.Voice
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams = volcengineTTSAudioParams{Format: "pcm", SampleRate: e.sampleRate}
	out.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return out
}

// Probe checks credentials and opens (then closes) one connection.
func (e *VolcengineEngine) Probe(ctx context.Context) error {
	if err := e.credentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := e.dial(ctx, e.resourceCandidates("")[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// resourceCandidates 配置的资源优先，其次按声音名称推断
func (e *VolcengineEngine) resourceCandidates(voice string) []string {
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		for _, existing := range out {
			if existing == id {
				return
			}
		}
		out = append(out, id)
	}
	add(e.resourceID)
	for _, id := range resolveTTSResourceCandidates(voice) {
		add(id)
	}
	return out
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

// 0: ok, 3000: legacy ok, 20000000: session finished
func isSuccessCode(code int) bool {
	return code == 0 || code == 3000 || code == 20000000
}
