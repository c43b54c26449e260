// Package cleanup はPostgreSQLのKVバックエンドに残った期限切れ行を削除するジョブを提供する。
// 期限切れの判定は読み出し時に行われるため、このジョブは容量の回収だけを担う。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBatchSize は1回のDELETEで削除する最大行数のデフォルト値。
const DefaultBatchSize = 1000

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SweepJob は期限切れのkv_entriesを削除するジョブ。
// 何度実行しても結果が変わらない冪等な削除処理を行う。
type SweepJob struct {
	db        Executor
	logger    *slog.Logger
	BatchSize int // 1回のDELETEで削除する最大行数（デフォルト: 1000）
}

// NewSweepJob は新しいSweepJobを生成する。
func NewSweepJob(db Executor, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		db:        db,
		logger:    logger,
		BatchSize: DefaultBatchSize,
	}
}

// Run は期限切れの行をバッチ単位で削除する。
// 削除件数がBatchSizeに満たなくなるまで繰り返す。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	const query = `DELETE FROM kv_entries
		WHERE key IN (
			SELECT key FROM kv_entries
			WHERE expires_at IS NOT NULL AND expires_at <= now()
			LIMIT $1
		)`

	var total int64
	for {
		result, err := j.db.ExecContext(ctx, query, j.BatchSize)
		if err != nil {
			j.logger.Error("期限切れエントリの削除に失敗しました",
				slog.String("error", err.Error()),
				slog.Int64("deleted_count", total),
			)
			return fmt.Errorf("期限切れエントリの削除に失敗: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			j.logger.Error("削除件数の取得に失敗しました",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		total += n

		if n < int64(j.BatchSize) {
			break
		}
	}

	j.logger.Info("期限切れエントリの削除が完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("batch_size", j.BatchSize),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は指定間隔のティッカーでRunを繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("期限切れエントリの削除ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("期限切れエントリの削除ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
