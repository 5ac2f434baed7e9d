// Package notify は UI 技術から切り離されたトースト通知と確認ダイアログのサイドチャネルを提供します。
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level は通知の種類なのだ。
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice はユーザー向けの一時的な通知です。
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier はトースト型の通知チャネルです。呼び出しはブロックしてはいけません。
type Notifier interface {
	Notify(ctx context.Context, level Level, message string)
}

// Confirmer は「はい/いいえ」の確認チャネルです。
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Info は情報通知を送るヘルパーなのだ。
func Info(ctx context.Context, n Notifier, msg string) { send(ctx, n, LevelInfo, msg) }

// Success は成功通知を送るヘルパーなのだ。
func Success(ctx context.Context, n Notifier, msg string) { send(ctx, n, LevelSuccess, msg) }

// Error はエラー通知を送るヘルパーなのだ。
func Error(ctx context.Context, n Notifier, msg string) { send(ctx, n, LevelError, msg) }

func send(ctx context.Context, n Notifier, level Level, msg string) {
	if n == nil {
		return
	}
	n.Notify(ctx, level, msg)
}

// LogNotifier は通知を slog に書き出すだけの Notifier です。CLI 実行時に使うのだ。
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, level Level, message string) {
	switch level {
	case LevelError:
		slog.ErrorContext(ctx, message, "notice", level)
	default:
		slog.InfoContext(ctx, message, "notice", level)
	}
}

// Buffer は直近の通知を保持し、ポーリングで取り出せる Notifier です。
type Buffer struct {
	mu      sync.Mutex
	notices []Notice
	limit   int
}

// NewBuffer は最大 limit 件を保持する Buffer を生成します。
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = 100
	}
	return &Buffer{limit: limit}
}

func (b *Buffer) Notify(_ context.Context, level Level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Level: level, Message: message, At: time.Now()})
	if over := len(b.notices) - b.limit; over > 0 {
		b.notices = b.notices[over:]
	}
}

// Drain は保持している通知をすべて取り出して空にするのだ。
func (b *Buffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// Snapshot は保持している通知のコピーを返します。
func (b *Buffer) Snapshot() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.notices...)
}

// Multi は複数の Notifier に同じ通知を配るのだ。
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, level Level, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, level, message)
		}
	}
}

// AutoConfirm は常に固定の回答を返す Confirmer です。
type AutoConfirm bool

func (a AutoConfirm) Confirm(context.Context, string) (bool, error) { return bool(a), nil }

type confirmKey struct{}

// WithConfirmation は ctx に事前回答を載せます。HTTP のように対話できない呼び出し元で使うのだ。
func WithConfirmation(ctx context.Context, answer bool) context.Context {
	return context.WithValue(ctx, confirmKey{}, answer)
}

// ContextConfirmer は WithConfirmation で載せた回答を返す Confirmer です。回答がなければ拒否します。
type ContextConfirmer struct{}

func (ContextConfirmer) Confirm(ctx context.Context, _ string) (bool, error) {
	answer, _ := ctx.Value(confirmKey{}).(bool)
	return answer, nil
}
