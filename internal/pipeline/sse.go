package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrStreamingUnsupported はResponseWriterがフラッシュに対応していない場合のエラー。
var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// SetStreamHeaders はServer-Sent Eventsのレスポンスヘッダーを設定する。
// プロキシによるバッファリングも無効にする。
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// SSEWriter はイベントを "event:" 行と "data:" 行の組として書き出し、
// 1イベントごとにフラッシュする。
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter はSSEWriterを生成する。
// wがhttp.Flusherを実装していない場合はErrStreamingUnsupportedを返す。
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent はイベントを1件書き出してフラッシュする。
// JSONは改行を含まないため、data行は常に1行になる。
func (s *SSEWriter) WriteEvent(ev Event) error {
	data := ev.Data
	if data == nil {
		data = DonePayload{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Name, err)
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(ev.Name)
	buf.WriteString("\ndata: ")
	buf.Write(body)
	buf.WriteString("\n\n")

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write %s event: %w", ev.Name, err)
	}
	s.flusher.Flush()
	return nil
}

// Flush はヘッダーを含むバッファ済みの出力を送る。
func (s *SSEWriter) Flush() {
	s.flusher.Flush()
}
