package stream

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
	speechservice "github.com/zhouzirui/interview-sim/backend/internal/service/speech"
)

// Chatter runs one exchange on a conversation.
type Chatter interface {
	Chat(ctx context.Context, conv *chatservice.Conversation, userMessage string) (string, error)
}

// Synthesizer renders assistant text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*speechmodel.TTSResponse, error)
}

// Multiplexer turns one chat exchange into an ordered frame sequence:
// Text, an optional AudioChunk, then Done. A provider failure yields a single
// Error frame and nothing else.
type Multiplexer struct {
	chat    Chatter
	speech  Synthesizer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Multiplexer)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Multiplexer) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Multiplexer) {
		m.metrics = mt
	}
}

// NewMultiplexer wires the chat client and, optionally, a synthesizer. A nil
// synthesizer produces text-only streams.
func NewMultiplexer(chat Chatter, speech Synthesizer, opts ...Option) *Multiplexer {
	m := &Multiplexer{chat: chat, speech: speech}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).With("component", "stream")
	return m
}

// Frames returns the response sequence for userMessage on conv. Nothing runs
// until the sequence is ranged over, and it can be ranged over only once;
// later ranges yield nothing. Stopping early abandons the remaining frames.
func (m *Multiplexer) Frames(ctx context.Context, conv *chatservice.Conversation, userMessage, voice string) iter.Seq[Frame] {
	var started atomic.Bool
	return func(yield func(Frame) bool) {
		if !started.CompareAndSwap(false, true) {
			return
		}

		text, err := m.chat.Chat(ctx, conv, userMessage)
		if err != nil {
			m.emit(yield, ErrorFrame(err.Error()))
			return
		}
		if !m.emit(yield, TextFrame(text)) {
			return
		}

		if audio, ok := m.synthesize(ctx, conv.ID(), text, voice); ok {
			if !m.emit(yield, audio) {
				return
			}
		}
		m.emit(yield, DoneFrame(FinishReasonStop))
	}
}

// synthesize returns an audio frame, or false when audio is skipped. Failures
// are logged and never surface as frames.
func (m *Multiplexer) synthesize(ctx context.Context, sessionID, text, voice string) (Frame, bool) {
	if m.speech == nil {
		return Frame{}, false
	}

	resp, err := m.speech.Synthesize(ctx, text, voice)
	switch {
	case errors.Is(err, speechservice.ErrEngineUnavailable):
		m.logger.Debug("speech disabled, sending text only", "session_id", sessionID)
		return Frame{}, false
	case err != nil:
		m.logger.Error("error generating audio", "session_id", sessionID, "err", err)
		return Frame{}, false
	case resp.Empty():
		m.logger.Warn("synthesis produced no audio", "session_id", sessionID)
		return Frame{}, false
	}
	return AudioFrame(resp.Audio, resp.Duration), true
}

func (m *Multiplexer) emit(yield func(Frame) bool, f Frame) bool {
	m.metrics.CountFrame(f.Kind.String())
	return yield(f)
}
