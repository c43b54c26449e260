package upstream

import (
	"fmt"
	"strings"
)

// Style は説明の書き方。擬似コードの方言か平易な英語のいずれか。
type Style string

const (
	StyleTypeScript Style = "typescript"
	StylePython     Style = "python"
	StyleRuby       Style = "ruby"
	StyleHuman      Style = "human"
)

// DefaultStyle は指定がない場合の説明スタイル。
const DefaultStyle = StyleTypeScript

var styleAliases = map[string]Style{
	"typescript": StyleTypeScript,
	"ts":         StyleTypeScript,
	"python":     StylePython,
	"py":         StylePython,
	"ruby":       StyleRuby,
	"rb":         StyleRuby,
	"human":      StyleHuman,
	"plain":      StyleHuman,
}

// ParseStyle は別名を含むスタイル名を正規化する。空文字列はDefaultStyle。
func ParseStyle(s string) (Style, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultStyle, nil
	}
	if st, ok := styleAliases[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown style %q (want typescript, python, ruby or human)", s)
}
