// Package pipeline はコマンド生成から説明生成までの一連の処理を実行し、
// 結果を名前付きイベントの列としてストリームに流す。
package pipeline

// イベント名。クライアントはこの名前でペイロードを判別する。
const (
	EventCommand     = "command"
	EventExplanation = "explanation"
	EventUsage       = "usage"
	EventDone        = "done"
	EventError       = "error"
)

// Event はストリームに流す1つのイベント。
// DataはJSONにエンコードしてdata行に書き出す。
type Event struct {
	Name string
	Data any
}

// CommandPayload は生成されたコマンド。
type CommandPayload struct {
	Command string `json:"command"`
	Safe    bool   `json:"safe"`
}

// ExplanationPayload はコマンドの説明。
type ExplanationPayload struct {
	Text string `json:"text"`
}

// UsagePayload は今回の利用を加算した後の利用状況。
type UsagePayload struct {
	Usage   int    `json:"usage"`
	Limit   int    `json:"limit"`
	Tier    string `json:"tier"`
	Warning bool   `json:"warning"`
}

// ErrorPayload はストリームを終了させるエラー。
type ErrorPayload struct {
	Message string `json:"message"`
}

// DonePayload は正常終了を表す空のペイロード。
type DonePayload struct{}

// IsTerminal はストリームを終了させるイベントかどうかを返す。
func (e Event) IsTerminal() bool {
	return e.Name == EventDone || e.Name == EventError
}
