// Package retry は1つの論理操作を再試行と下位バックエンドへのフォールバックで包みます。
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/gate"
	"github.com/shouni/go-manga-studio/pkg/metrics"
	"github.com/shouni/go-manga-studio/pkg/notify"

	"github.com/patrickmn/go-cache"
)

const (
	TierPrimary  = "primary"
	TierFallback = "fallback"

	fallbackNoticeKey = "fallback"
)

// Policy は再試行とフォールバックの方針です。
// ゲートの取得は論理操作ごとに1回で、試行ごとには取得しません。
type Policy struct {
	gate         *gate.Gate
	maxAttempts  int
	quotaBase    time.Duration
	overloadBase time.Duration
	maxJitter    time.Duration

	notifier notify.Notifier
	notices  *cache.Cache
	metrics  *metrics.Metrics

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// Option は Policy の挙動を差し替えるのだ。
type Option func(*Policy)

// WithNotifier は再試行やフォールバックの通知先を設定します。
func WithNotifier(n notify.Notifier) Option { return func(p *Policy) { p.notifier = n } }

// WithMetrics は指標の記録先を設定します。
func WithMetrics(m *metrics.Metrics) Option { return func(p *Policy) { p.metrics = m } }

// WithSleeper はバックオフ待機の実装を差し替えます。テスト用なのだ。
func WithSleeper(f func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = f }
}

// WithJitter はジッタの実装を差し替えます。
func WithJitter(f func(max time.Duration) time.Duration) Option {
	return func(p *Policy) { p.jitter = f }
}

// NewPolicy は共有ゲート g と設定から Policy を生成します。
func NewPolicy(g *gate.Gate, cfg config.Config, opts ...Option) *Policy {
	window := cfg.FallbackNoticeWindow
	if window <= 0 {
		window = config.DefaultFallbackNoticeWindow
	}
	p := &Policy{
		gate:         g,
		maxAttempts:  max(cfg.MaxAttempts, 1),
		quotaBase:    cfg.QuotaBaseDelay,
		overloadBase: cfg.OverloadBaseDelay,
		maxJitter:    cfg.MaxJitter,
		notices:      cache.New(window, 2*window),
		sleep:        sleepContext,
		jitter:       randomJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute は primary を最大試行回数まで実行し、アクセス拒否またはモデル不在の場合に限って
// fallback で同じ再試行ループをやり直します。
func Execute[T any](ctx context.Context, p *Policy, op string, primary, fallback func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.gate.Acquire(ctx); err != nil {
		return zero, err
	}
	defer p.gate.Release()

	notified := false
	v, err := attempt(ctx, p, op, TierPrimary, primary, &notified)
	if err == nil {
		return v, nil
	}
	if fallback == nil || !domain.KindOf(err).TriggersFallback() {
		return zero, err
	}

	slog.Warn("Primary backend unavailable, switching to fallback tier", "op", op, "kind", domain.KindOf(err))
	p.metrics.Fallback(op)
	if p.notices.Add(fallbackNoticeKey, struct{}{}, cache.DefaultExpiration) == nil {
		notify.Info(ctx, p.notifier, "高品質モデルが利用できないため、標準モデルで生成します。")
	}
	return attempt(ctx, p, op, TierFallback, fallback, &notified)
}

func attempt[T any](ctx context.Context, p *Policy, op, tier string, fn func(context.Context) (T, error), notified *bool) (T, error) {
	var zero T
	var lastErr error
	for n := 1; n <= p.maxAttempts; n++ {
		v, err := fn(ctx)
		if err == nil {
			p.metrics.BackendCall(op, "ok")
			return v, nil
		}
		kind := domain.KindOf(err)
		p.metrics.BackendCall(op, kind.String())
		if ctx.Err() != nil {
			return zero, err
		}
		if !kind.Retryable() {
			return zero, err
		}
		lastErr = err
		if n == p.maxAttempts {
			break
		}

		delay := p.backoff(kind, n)
		slog.Warn("Retrying generation",
			"op", op,
			"tier", tier,
			"attempt", n,
			"kind", kind,
			"delay", delay.Round(time.Millisecond),
			"error", err,
		)
		p.metrics.Retry(op, kind.String())
		if !*notified {
			*notified = true
			notify.Info(ctx, p.notifier, "生成サービスが混雑しているため再試行しています。")
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, domain.NewGenerationError(domain.KindRetriesExhausted, op, fmt.Errorf("%d 回試行しました: %w", p.maxAttempts, lastErr))
}

// backoff は base * 2^(attempt-1) + jitter を返すのだ。利用上限エラーは base が大きい。
func (p *Policy) backoff(kind domain.ErrorKind, attempt int) time.Duration {
	base := p.overloadBase
	if kind == domain.KindRateLimited {
		base = p.quotaBase
	}
	return base*time.Duration(1<<(attempt-1)) + p.jitter(p.maxJitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
