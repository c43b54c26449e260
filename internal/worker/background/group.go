// Package background はレスポンス返却後も走り続ける非同期タスクを管理する。
// 利用回数の加算など、リクエストのキャンセルに巻き込まれてはならない処理をここで起動し、
// シャットダウン時に完了を待つ。
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed はシャットダウン開始後にタスクを起動しようとした場合のエラー。
var ErrClosed = errors.New("background group is closed")

// Group は起動したタスクを追跡し、Waitでまとめて完了を待つ。
// ゼロ値は使用できない。NewGroupで生成すること。
type Group struct {
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	running int
	wg      sync.WaitGroup
}

// NewGroup は新しいGroupを生成する。
func NewGroup(logger *slog.Logger) *Group {
	return &Group{logger: logger}
}

// Go はタスクを起動する。fnに渡すコンテキストはキャンセルされない。
// Waitの開始後はタスクを起動せずErrClosedを返す。
func (g *Group) Go(name string, fn func(ctx context.Context)) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn("シャットダウン中のためタスクを起動しませんでした",
			slog.String("task", name),
		)
		return ErrClosed
	}
	g.running++
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		// Waitが返った後にログやカウンタへ書き込まないよう、Doneは最後に実行する
		defer g.wg.Done()

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("バックグラウンドタスクでpanicが発生しました",
					slog.String("task", name),
					slog.String("panic", fmt.Sprintf("%v", rec)),
				)
			}
			g.mu.Lock()
			g.running--
			g.mu.Unlock()

			g.logger.Debug("バックグラウンドタスクが完了しました",
				slog.String("task", name),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			)
		}()

		fn(context.Background())
	}()

	return nil
}

// Running は実行中のタスク数を返す。
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Wait は新規タスクの受付を停止し、実行中のタスクの完了を待つ。
// ctxが先に終了した場合は残りのタスク数を含むエラーを返す。
func (g *Group) Wait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d background task(s) still running: %w", g.Running(), ctx.Err())
	}
}
