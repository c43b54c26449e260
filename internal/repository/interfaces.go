// Package repository はキーバリューストアのインターフェースと、
// それを土台にした利用回数・階層・認証セッションの永続化を提供する。
package repository

import (
	"context"
	"time"
)

// KVStore は外部キーバリューストアのインターフェース。
// ゲートウェイの永続状態はすべてこのストアに置く。
// 実装はRedis、PostgreSQL、インメモリの3種類。
type KVStore interface {
	// Get はキーの値を取得する。存在しない、または期限切れの場合はokがfalseになる。
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set はキーに値を書き込む。ttlが0の場合は期限なし。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// CompareAndSwap は現在の値がoldと一致する場合に限りnewとttlで上書きする。
	// キーが存在しない、または値が異なる場合はswappedがfalseになる。
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (swapped bool, err error)

	// GetDel はキーの値を取得すると同時に削除する。
	// 同じキーに対して並行に呼ばれた場合、値を受け取れるのは1回だけ。
	GetDel(ctx context.Context, key string) (value string, ok bool, err error)
}

// キーのプレフィックス
const (
	usageKeyPrefix   = "u:"
	tierKeyPrefix    = "tier:"
	sessionKeyPrefix = "session:"
)

// UsageKey は利用回数レコードのキーを返す。
func UsageKey(subjectID string) string { return usageKeyPrefix + subjectID }

// TierKey は階層レコードのキーを返す。
func TierKey(subjectID string) string { return tierKeyPrefix + subjectID }

// SessionKey は認証セッションレコードのキーを返す。
func SessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }
