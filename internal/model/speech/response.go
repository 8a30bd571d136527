package speech

// TTSResponse 语音合成结果。Audio 为完整的 WAV 容器字节。
type TTSResponse struct {
	Audio    []byte      `json:"-"`
	Frames   int         `json:"frames"`
	Duration float64     `json:"duration"` // seconds, Frames / SampleRate
	Format   AudioFormat `json:"format"`
	Voice    string      `json:"voice"`
}

// Empty 表示引擎没有产出任何音频帧
func (r *TTSResponse) Empty() bool {
	return r == nil || r.Frames == 0
}
