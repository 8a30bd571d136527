package stream

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind identifies a frame variant.
type Kind int

const (
	KindText Kind = iota
	KindAudio
	KindError
	KindDone
)

// FinishReasonStop is the only finish reason emitted today.
const FinishReasonStop = "stop"

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Tag is the one-character prefix a frame carries on the wire.
func (k Kind) Tag() string {
	switch k {
	case KindText:
		return "0"
	case KindAudio:
		return "2"
	case KindError:
		return "3"
	case KindDone:
		return "d"
	default:
		return ""
	}
}

// Frame is one unit of a chat response stream. Audio holds the raw
// container bytes; it is base64 encoded only when the frame is marshalled.
type Frame struct {
	Kind         Kind
	Text         string
	Audio        []byte
	Duration     float64
	FinishReason string
}

func TextFrame(text string) Frame {
	return Frame{Kind: KindText, Text: text}
}

func AudioFrame(audio []byte, duration float64) Frame {
	return Frame{Kind: KindAudio, Audio: audio, Duration: duration}
}

func ErrorFrame(message string) Frame {
	return Frame{Kind: KindError, Text: message}
}

func DoneFrame(reason string) Frame {
	return Frame{Kind: KindDone, FinishReason: reason}
}

type audioPayload struct {
	Audio    string  `json:"audio"`
	Duration float64 `json:"duration"`
}

type donePayload struct {
	FinishReason string `json:"finishReason"`
}

// MarshalLine renders the frame as `<tag>:<json>\n`.
func (f Frame) MarshalLine() ([]byte, error) {
	var payload any
	switch f.Kind {
	case KindText, KindError:
		payload = f.Text
	case KindAudio:
		payload = []audioPayload{{
			Audio:    base64.StdEncoding.EncodeToString(f.Audio),
			Duration: f.Duration,
		}}
	case KindDone:
		payload = donePayload{FinishReason: f.FinishReason}
	default:
		return nil, fmt.Errorf("unknown frame kind %d", int(f.Kind))
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}

	line := make([]byte, 0, len(body)+3)
	line = append(line, f.Kind.Tag()...)
	line = append(line, ':')
	line = append(line, body...)
	return append(line, '\n'), nil
}
