// Package upstream はコマンド生成・説明生成の上流LLM APIクライアントと、
// 旧API向けのパススループロキシを提供する。
package upstream

import (
	"errors"
	"time"
)

// 上流の名前。メトリクスのラベルに使う。
const (
	NameCommand = "command"
	NameExplain = "explain"
)

// ErrUpstreamCall は上流呼び出しの失敗（通信エラー・非2xx・空応答）を表す。
var ErrUpstreamCall = errors.New("upstream call failed")

// Observer は上流呼び出しの所要時間と成否を受け取る。
type Observer interface {
	ObserveUpstream(upstream string, elapsed time.Duration, failed bool)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, time.Duration, bool) {}

// 上流へのリクエストパラメータ
const (
	maxTokens   = 500
	temperature = 0.3
)
