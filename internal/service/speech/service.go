package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
	"github.com/zhouzirui/interview-sim/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
)

// ErrEngineUnavailable is wrapped when no engine is configured or it failed
// its startup probe.
var ErrEngineUnavailable = errors.New("speech engine unavailable")

// SynthesisError reports a failed synthesis. Callers degrade to text-only.
type SynthesisError struct {
	Engine string
	Err    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("error synthesizing speech with %s: %v", e.Engine, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Service 语音合成适配器：在有界工作池上运行引擎，拼接 PCM 并封装为 WAV。
type Service struct {
	engine   Engine
	pool     *Pool
	format   speechmodel.AudioFormat
	voices   *VoiceTable
	language string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithFormat(format speechmodel.AudioFormat) Option {
	return func(s *Service) {
		s.format = format
	}
}

func WithVoices(voices *VoiceTable) Option {
	return func(s *Service) {
		s.voices = voices
	}
}

// WithTimeout bounds each synthesis including queue wait.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// WithLanguage sets the language used when a request names none.
func WithLanguage(language string) Option {
	return func(s *Service) {
		if language != "" {
			s.language = language
		}
	}
}

// WithPool sets worker count and queue size.
func WithPool(workers, queueSize int) Option {
	return func(s *Service) {
		s.pool = NewPool(workers, queueSize, s.metrics.SetQueueDepth)
	}
}

// NewService wraps engine. A nil engine yields a service whose every call
// fails with ErrEngineUnavailable.
func NewService(engine Engine, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		format:   speechmodel.DefaultAudioFormat(),
		language: "pt-BR",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = NewPool(2, 16, s.metrics.SetQueueDepth)
	}
	if s.voices == nil {
		s.voices = NewVoiceTable(s.EngineName(), "", s.language)
	}
	s.logger = logging.OrNop(s.logger).With("component", "speech", "engine", s.EngineName())
	return s
}

// NewFromConfig builds the configured engine and voice table.
func NewFromConfig(cfg config.SpeechConfig, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	var engine Engine
	switch cfg.Engine {
	case config.EngineKokoro:
		engine = NewKokoroEngine(cfg.Endpoint, logger)
	case config.EngineVolcengine:
		engine = NewVolcengineEngine(cfg, logger)
	case config.EngineNone:
	default:
		return nil, fmt.Errorf("unsupported speech engine %q", cfg.Engine)
	}

	voices := NewVoiceTable(cfg.Engine, cfg.Voice, cfg.Language)
	if cfg.VoicesFile != "" {
		if err := voices.LoadOverrides(cfg.VoicesFile); err != nil {
			return nil, err
		}
	}
	if engine != nil {
		for _, lang := range voices.Uncovered(persona.LanguagePortuguese, persona.LanguageEnglish, persona.LanguageBritish) {
			logging.OrNop(logger).Warn("no native voice for persona language, using fallback voice",
				"engine", cfg.Engine, "language", lang, "voice", voices.Resolve(lang))
		}
	}

	s := NewService(engine,
		WithLogger(logger),
		WithMetrics(m),
		WithFormat(speechmodel.AudioFormat{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			BitDepth:   cfg.BitDepth,
			Encoding:   speechmodel.Encoding(cfg.Encoding),
		}),
		WithVoices(voices),
		WithTimeout(cfg.Timeout),
		WithLanguage(cfg.Language),
		WithPool(cfg.Workers, cfg.QueueSize),
	)
	return s, nil
}

// EngineName returns the engine name, or "none".
func (s *Service) EngineName() string {
	if s.engine == nil {
		return config.EngineNone
	}
	return s.engine.Name()
}

// Enabled reports whether an engine is attached.
func (s *Service) Enabled() bool {
	return s.engine != nil
}

// Disable detaches the engine after a failed startup probe. Call it before
// serving traffic.
func (s *Service) Disable() {
	s.engine = nil
}

// Format is the container format of synthesized audio.
func (s *Service) Format() speechmodel.AudioFormat {
	return s.format
}

// VoiceFor returns the voice used for a persona language.
func (s *Service) VoiceFor(language string) string {
	if language == "" {
		language = s.language
	}
	return s.voices.Resolve(language)
}

// Probe checks that the engine can be used.
func (s *Service) Probe(ctx context.Context) error {
	if s.engine == nil {
		return ErrEngineUnavailable
	}
	return s.engine.Probe(ctx)
}

// Synthesize renders text with voice. An empty voice uses the default
// language's voice.
func (s *Service) Synthesize(ctx context.Context, text, voice string) (*speechmodel.TTSResponse, error) {
	return s.SynthesizeRequest(ctx, speechmodel.TTSRequest{Text: text, Voice: voice})
}

// SynthesizeRequest runs one synthesis on the worker pool and returns a WAV
// container. No frames is not an error: the response is empty with
// duration 0.
func (s *Service) SynthesizeRequest(ctx context.Context, req speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	start := time.Now()
	engine := s.engine
	if engine == nil {
		return nil, &SynthesisError{Engine: config.EngineNone, Err: ErrEngineUnavailable}
	}

	if req.Voice == "" {
		req.Voice = s.VoiceFor(req.Language)
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.emptyResponse(req.Voice), nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	pcm, err := Do(ctx, s.pool, func(ctx context.Context) ([]byte, error) {
		return collect(ctx, engine, req)
	})
	if err != nil {
		s.metrics.ObserveSynthesis(engine.Name(), metrics.OutcomeError, time.Since(start))
		return nil, &SynthesisError{Engine: engine.Name(), Err: err}
	}

	audio, frames, err := EncodeWAV(pcm, s.format)
	if err != nil {
		s.metrics.ObserveSynthesis(engine.Name(), metrics.OutcomeError, time.Since(start))
		return nil, &SynthesisError{Engine: engine.Name(), Err: err}
	}

	resp := s.emptyResponse(req.Voice)
	resp.Audio = audio
	resp.Frames = frames
	resp.Duration = Duration(frames, s.format.SampleRate)

	outcome := metrics.OutcomeOK
	if resp.Empty() {
		outcome = metrics.OutcomeEmpty
	}
	s.metrics.ObserveSynthesis(engine.Name(), outcome, time.Since(start))
	s.logger.Debug("speech synthesized", "voice", req.Voice, "frames", frames, "duration", resp.Duration, "elapsed", time.Since(start))
	return resp, nil
}

func (s *Service) emptyResponse(voice string) *speechmodel.TTSResponse {
	format := s.format
	if format.Encoding == speechmodel.EncodingMulaw {
		format.BitDepth = 8
	}
	return &speechmodel.TTSResponse{Format: format, Voice: voice}
}

// Close drains the worker pool.
func (s *Service) Close() {
	s.pool.Close()
}

// collect concatenates every chunk the engine produces.
func collect(ctx context.Context, engine Engine, req speechmodel.TTSRequest) ([]byte, error) {
	stream, err := engine.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var pcm []byte
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return pcm, nil
		}
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, chunk...)
	}
}
