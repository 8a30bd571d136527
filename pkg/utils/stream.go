package utils

import (
	"net/http"
)

// SetupStreamHeaders 设置流式响应头。帧以行为单位写出，不使用 SSE 的 data: 前缀。
func SetupStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteLine 写出一行并立即 flush
func WriteLine(w http.ResponseWriter, flusher http.Flusher, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
