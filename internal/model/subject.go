// Package model はドメインモデルを定義する。
package model

import "strings"

// Tier はサブスクリプションの階層を表す。
// 既知の値以外の文字列もそのまま保持する（将来の階層追加に備える）。
type Tier string

const (
	// TierFree は利用回数に生涯上限がある無料階層。
	TierFree Tier = "free"
	// TierPro は利用回数が無制限の有料階層。
	TierPro Tier = "pro"
)

// IsUnlimited は利用回数の上限を持たない階層かどうかを返す。
func (t Tier) IsUnlimited() bool {
	return t == TierPro
}

// TierOrDefault は空文字列の場合にTierFreeを返す。
func TierOrDefault(s string) Tier {
	s = strings.TrimSpace(s)
	if s == "" {
		return TierFree
	}
	return Tier(s)
}

// ProviderGitHub はGitHubアカウント由来のサブジェクトのプロバイダー名。
const ProviderGitHub = "github"

// SubjectID は "<provider>:<externalId>" 形式の内部サブジェクトIDを組み立てる。
func SubjectID(provider, externalID string) string {
	return provider + ":" + externalID
}

// Identity は検証済みトークンから取り出した呼び出し元の情報。
type Identity struct {
	SubjectID string
	Tier      Tier
	Username  string
}
