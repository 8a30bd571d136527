package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
)

const (
	kokoroEngineName = "kokoro"
	kokoroReadSize   = 4096
)

// KokoroEngine calls a Kokoro-FastAPI server's OpenAI-style speech endpoint
// and streams back raw PCM.
type KokoroEngine struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

type kokoroSpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Stream         bool    `json:"stream"`
	Speed          float64 `json:"speed"`
}

// NewKokoroEngine 创建 Kokoro 引擎。请求本身不设超时，由调用方的 context 控制。
func NewKokoroEngine(endpoint string, logger *slog.Logger) *KokoroEngine {
	return &KokoroEngine{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
		logger:     logging.OrNop(logger).With("component", "speech", "engine", kokoroEngineName),
	}
}

func (e *KokoroEngine) Name() string {
	return kokoroEngineName
}

func (e *KokoroEngine) Stream(ctx context.Context, req speechmodel.TTSRequest) (*schema.StreamReader[[]byte], error) {
	body, err := sonic.Marshal(kokoroSpeechRequest{
		Model:          "kokoro",
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: "pcm",
		Stream:         true,
		Speed:          1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("encode kokoro request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build kokoro request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kokoro request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("kokoro returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	reader, writer := schema.Pipe[[]byte](4)
	go func() {
		defer resp.Body.Close()
		defer writer.Close()

		buf := make([]byte, kokoroReadSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				if closed := writer.Send(chunk, nil); closed {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, fmt.Errorf("read kokoro audio: %w", err))
				return
			}
		}
	}()
	return reader, nil
}

// Probe lists the server's voices, which only succeeds once the model is loaded.
func (e *KokoroEngine) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/v1/audio/voices", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kokoro unreachable at %s: %w", e.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("kokoro voices endpoint returned status %d", resp.StatusCode)
	}
	e.logger.Debug("kokoro engine ready", "endpoint", e.endpoint)
	return nil
}
