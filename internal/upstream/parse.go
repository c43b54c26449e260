package upstream

import (
	"encoding/json"
	"strings"
)

// CommandResult はコマンド生成の結果。
type CommandResult struct {
	Command string `json:"command"`
	Safe    bool   `json:"safe"`
}

var fencePrefixes = []string{"```json\n", "```json", "```bash\n", "```bash", "```sh\n", "```sh", "```\n", "```"}

// ParseCommandResult は上流の応答を {command, safe} として解釈する。
// コードフェンスで囲まれていても受け付ける。JSONとして解釈できない場合は
// 本文をそのままコマンドとし、safe=falseとする。
func ParseCommandResult(raw string) CommandResult {
	body := stripFences(strings.TrimSpace(raw))

	var result CommandResult
	if err := json.Unmarshal([]byte(body), &result); err == nil && result.Command != "" {
		result.Command = strings.TrimSpace(result.Command)
		return result
	}

	return CommandResult{Command: stripCommandPrefix(body), Safe: false}
}

func stripFences(s string) string {
	lower := strings.ToLower(s)
	for _, p := range fencePrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimSuffix(s, "\n```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func stripCommandPrefix(s string) string {
	lower := strings.ToLower(s)
	for _, p := range []string{"command:", "the command is:"} {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	return strings.TrimSpace(s)
}
