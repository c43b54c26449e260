package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore はRedisを使用したKVStore。本番のデフォルト。
// 有効期限はRedisのEXに任せる。
type RedisKVStore struct {
	client redis.UniversalClient
}

// NewRedisKVStore はRedisKVStoreを生成する。
func NewRedisKVStore(client redis.UniversalClient) *RedisKVStore {
	return &RedisKVStore{client: client}
}

// OpenRedis はredis:// 形式のURLからクライアントを生成する。
// 接続は遅延するため、接続確認にはPingを使用すること。
func OpenRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get はキーの値を取得する。
func (s *RedisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return v, true, nil
}

// Set はキーに値を書き込む。ttlが0の場合は期限なし。
func (s *RedisKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// compareAndSwapScript は値が一致する場合のみSETする。ARGV[3]はミリ秒のTTLで、0なら期限なし。
var compareAndSwapScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// CompareAndSwap はLuaスクリプトで比較と書き込みを1回の操作として行う。
func (s *RedisKVStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	n, err := compareAndSwapScript.Run(ctx, s.client, []string{key}, old, new, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap %q: %w", key, err)
	}
	return n == 1, nil
}

// GetDel はGETDELでキーの値を取得して削除する。
func (s *RedisKVStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to getdel %q: %w", key, err)
	}
	return v, true, nil
}

// compile-time interface check
var _ KVStore = (*RedisKVStore)(nil)
