// Package security はアプリケーションのセキュリティ機能を提供する。
//
// UsernameSanitizer は外部から受け取ったユーザー名からHTMLと制御文字を取り除く。
// ユーザー名はトークンのクレームに埋め込まれ、CLIの表示とOAuth完了ページに使われる。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxUsernameLength はサニタイズ後のユーザー名の最大文字数（rune数）。
const MaxUsernameLength = 64

// UsernameSanitizer はユーザー名のサニタイズ機能のインターフェースを定義する。
type UsernameSanitizer interface {
	// Sanitize はタグをすべて除去したプレーンテキストのユーザー名を返す。
	// 制御文字を除去し、前後の空白を取り除き、MaxUsernameLength文字で切り詰める。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// usernameSanitizer はUsernameSanitizerの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type usernameSanitizer struct {
	policy *bluemonday.Policy
}

// NewUsernameSanitizer はUsernameSanitizerの新しいインスタンスを生成する。
// タグを一切許可しないStrictPolicyを使う。
func NewUsernameSanitizer() *usernameSanitizer {
	return &usernameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はユーザー名をサニタイズする。
// StrictPolicyはテキストをHTMLエスケープして返すため、プレーンテキストに戻してから整形する。
// 出力先でのエスケープは呼び出し側の責務。
func (s *usernameSanitizer) Sanitize(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if runes := []rune(text); len(runes) > MaxUsernameLength {
		text = strings.TrimSpace(string(runes[:MaxUsernameLength]))
	}
	return text
}

// compile-time interface check
var _ UsernameSanitizer = (*usernameSanitizer)(nil)
