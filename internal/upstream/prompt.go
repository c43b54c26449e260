package upstream

import "fmt"

// BuildCommandPrompt はコマンド生成用のプロンプトを組み立てる。
// 応答は {"command": ..., "safe": ...} のJSONを期待する。
func BuildCommandPrompt(query string) string {
	return fmt.Sprintf(`You are a macOS CLI assistant. Convert the user's request to a shell command.

User request: %q

Return JSON with:
- "command": the shell command
- "safe": true if READ-ONLY (ls, find, grep, cat, ps, docker ps, git status), false if has SIDE EFFECTS (writes files, deletes, sends data, installs packages)

Examples:
{"command": "find . -type f -size +100M", "safe": true}
{"command": "rm -rf *.tmp", "safe": false}
{"command": "git status", "safe": true}
{"command": "npm install", "safe": false}

Respond with ONLY the JSON object, no markdown:`, query)
}

var styleInstructions = map[Style]string{
	StyleTypeScript: "Explain it as TypeScript-like pseudo-code. Use familiar programming constructs like:\n" +
		"- `for (const file of files)` for loops\n" +
		"- `if (condition)` for conditionals\n" +
		"- `pipe(output).to(nextCommand)` for pipes\n" +
		"- Use camelCase variable names",
	StylePython: "Explain it as Python-like pseudo-code. Use familiar programming constructs like:\n" +
		"- `for file in files:` for loops\n" +
		"- `if condition:` for conditionals\n" +
		"- Comments with `#`\n" +
		"- Use snake_case variable names",
	StyleRuby: "Explain it as Ruby-like pseudo-code. Use familiar programming constructs like:\n" +
		"- `files.each do |file|` for loops\n" +
		"- `if condition` / `end` blocks\n" +
		"- Use snake_case variable names",
	StyleHuman: "Explain it in plain English, step by step.\n" +
		"- Use simple, clear language\n" +
		"- Number each step\n" +
		"- Avoid jargon where possible",
}

const explainTemplate = "Analyze this shell command for an experienced developer.\n\n" +
	"SAFETY LEVEL (be practical, not paranoid):\n\n" +
	"[SAFE] - Default for read-only operations:\n" +
	"- ls, find, grep, cat, head, tail, wc, du, df\n" +
	"- git status, git log, git diff\n" +
	"- docker ps, kubectl get\n" +
	"- Any command that only READS data\n\n" +
	"[CAUTION] - Only for commands with SIDE EFFECTS:\n" +
	"- Writes or modifies files (>, >>, tee, sed -i)\n" +
	"- Git commits, pushes\n" +
	"- Sends data over network (curl -X POST, wget --post)\n" +
	"- Installs packages\n" +
	"- Explicitly reads secret files (.env, credentials.json, ~/.ssh/*)\n\n" +
	"[DANGER] - Destructive/irreversible:\n" +
	"- rm, rm -rf (deletes files)\n" +
	"- DROP TABLE, DELETE FROM\n" +
	"- git push --force, git reset --hard\n" +
	"- Format/wipe operations\n\n" +
	"IMPORTANT: Assume the developer knows what they asked for.\n" +
	"- \"find large files\" showing file names is SAFE (that's the point)\n" +
	"- \"list processes\" showing process info is SAFE\n" +
	"- \"show git history\" is SAFE\n" +
	"- Only use CAUTION for actual side effects or explicit secret file access\n\n" +
	"%s\n\n" +
	"Command: `%s`\n\n" +
	"Format (keep pseudo-code to 3-6 lines):\n" +
	"[SAFETY_LEVEL] One brief sentence.\n" +
	"```\n" +
	"pseudo-code\n" +
	"```"

// BuildExplainPrompt は生成済みコマンドの説明用プロンプトを組み立てる。
func BuildExplainPrompt(command string, style Style) string {
	instruction, ok := styleInstructions[style]
	if !ok {
		instruction = styleInstructions[DefaultStyle]
	}
	return fmt.Sprintf(explainTemplate, instruction, command)
}
