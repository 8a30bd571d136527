package speech

import (
	"context"

	"github.com/cloudwego/eino/schema"

	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
)

// Engine produces raw 16-bit little-endian PCM for a text. Chunks arrive on
// the returned stream in playback order; the stream ends with io.EOF.
type Engine interface {
	Name() string
	Stream(ctx context.Context, req speechmodel.TTSRequest) (*schema.StreamReader[[]byte], error)
	// Probe reports whether the engine can serve requests.
	Probe(ctx context.Context) error
}
