package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`    // 声音类型，留空则按语言选择
	Language string `json:"language"` // pt-BR, en, en-GB
}
