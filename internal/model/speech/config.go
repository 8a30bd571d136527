package speech

// Encoding 音频容器的采样编码
type Encoding string

const (
	// EncodingPCM 16-bit little-endian linear PCM
	EncodingPCM Encoding = "pcm"
	// EncodingMulaw 8-bit G.711 μ-law
	EncodingMulaw Encoding = "mulaw"
)

// AudioFormat 描述合成音频的固定格式
type AudioFormat struct {
	SampleRate int      `json:"sampleRate"`
	Channels   int      `json:"channels"`
	BitDepth   int      `json:"bitDepth"` // bits per sample of the engine output
	Encoding   Encoding `json:"encoding"`
}

// DefaultAudioFormat mono, 16-bit, 24 kHz PCM.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{SampleRate: 24000, Channels: 1, BitDepth: 16, Encoding: EncodingPCM}
}

// FrameSize 每帧字节数（所有声道）
func (f AudioFormat) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}
