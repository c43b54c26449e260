package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresKVStore はPostgreSQLのkv_entriesテーブルを使用したKVStore。
// 期限切れの判定は読み出し時に行い、物理削除はcleanupジョブに任せる。
type PostgresKVStore struct {
	db *sql.DB
}

// NewPostgresKVStore はPostgresKVStoreを生成する。
func NewPostgresKVStore(db *sql.DB) *PostgresKVStore {
	return &PostgresKVStore{db: db}
}

// Get はキーの値を取得する。期限切れの場合は存在しないものとして扱う。
func (s *PostgresKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value
		 FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

// Set はキーに値をUPSERTする。ttlが0の場合は期限なし。
func (s *PostgresKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// CompareAndSwap は条件付きUPDATEで現在の値がoldと一致する場合のみ上書きする。
// 期限切れの行は一致しないものとして扱う。
func (s *PostgresKVStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE kv_entries
		 SET value = $3, expires_at = $4, updated_at = now()
		 WHERE key = $1 AND value = $2
		   AND (expires_at IS NULL OR expires_at > now())`,
		key, old, new, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap %q: %w", key, err)
	}
	return n == 1, nil
}

// GetDel はDELETE ... RETURNINGでキーの値を取得して削除する。
// 行ロックにより、並行な呼び出しのうち値を受け取れるのは1つだけ。
func (s *PostgresKVStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM kv_entries WHERE key = $1 RETURNING value, expires_at`,
		key,
	).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to getdel %q: %w", key, err)
	}
	if expiresAt.Valid && !time.Now().Before(expiresAt.Time) {
		return "", false, nil
	}
	return value, true, nil
}

// compile-time interface check
var _ KVStore = (*PostgresKVStore)(nil)
