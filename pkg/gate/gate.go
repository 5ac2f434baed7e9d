// Package gate は外部生成サービスへの全呼び出しを束ねる単一のトークンゲートを提供します。
package gate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate は同時実行数の上限と呼び出し間の最小間隔を強制します。
// 待機者は FIFO で払い出されるのだ。プロセスで1つだけ生成し、全呼び出し元で共有します。
type Gate struct {
	sem      *semaphore.Weighted
	step     *semaphore.Weighted // 間隔待機を1件ずつ FIFO で直列化する
	limiter  *rate.Limiter
	interval time.Duration
	ceiling  int
	onGrant  func(time.Time)

	// lastGrant は step を保持している間だけ読み書きします。
	lastGrant time.Time
	active    atomic.Int64
	waiting   atomic.Int64
}

// Option は Gate の任意設定です。
type Option func(*Gate)

// WithGrantHook は払い出しのたびに払い出し時刻で fn を呼びます。
// fn は間隔待機の直列区間内で呼ばれるので、時刻は払い出し順に並ぶのだ。
func WithGrantHook(fn func(time.Time)) Option {
	return func(g *Gate) { g.onGrant = fn }
}

// New は上限 ceiling と最小間隔 interval を持つ Gate を生成します。
func New(ceiling int, interval time.Duration, opts ...Option) *Gate {
	if ceiling <= 0 {
		ceiling = 1
	}
	if interval < 0 {
		interval = 0
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	g := &Gate{
		sem:      semaphore.NewWeighted(int64(ceiling)),
		step:     semaphore.NewWeighted(1),
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		ceiling:  ceiling,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire は枠が空くまで待ち、さらに前回の払い出しから最小間隔が経過するまで待機します。
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("トークンゲートの取得に失敗しました: %w", err)
	}
	if err := g.awaitInterval(ctx); err != nil {
		g.sem.Release(1)
		return fmt.Errorf("トークンゲートの間隔待機に失敗しました: %w", err)
	}
	g.active.Add(1)
	return nil
}

// awaitInterval は実際の前回払い出し時刻から interval 経過するまで眠り、払い出し時刻を記録します。
func (g *Gate) awaitInterval(ctx context.Context) error {
	if err := g.step.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.step.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if !g.lastGrant.IsZero() {
		if wait := g.interval - time.Since(g.lastGrant); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	g.lastGrant = time.Now()
	if g.onGrant != nil {
		g.onGrant(g.lastGrant)
	}
	return nil
}

// Release は枠を返却し、先頭の待機者に払い出すのだ。
func (g *Gate) Release() {
	g.active.Add(-1)
	g.sem.Release(1)
}

// Ceiling はゲートの同時実行上限を返します。
func (g *Gate) Ceiling() int { return g.ceiling }

// Active は現在払い出し中の枠数を返します。
func (g *Gate) Active() int { return int(g.active.Load()) }

// Waiting は枠の空きを待っている呼び出し数を返します。
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }
