package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSubPanelNotFound = errors.New("サブパネルが見つかりません")
	ErrChapterNotFound  = errors.New("章が見つかりません")
	ErrLastChapter      = errors.New("最後の章は削除できません")
	ErrInvalidLayout    = errors.New("レイアウトとサブパネルが一致しません")
)

// ErrorKind は生成失敗の分類です。閉じた集合で、文字列照合には頼りません。
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAccessDenied
	KindModelUnavailable
	KindInvalidRequest
	KindRateLimited
	KindOverloaded
	KindTransient5xx
	KindDimensionsTimeout
	KindRetriesExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindAccessDenied:
		return "access_denied"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindInvalidRequest:
		return "invalid_request"
	case KindRateLimited:
		return "rate_limited"
	case KindOverloaded:
		return "overloaded"
	case KindTransient5xx:
		return "transient_5xx"
	case KindDimensionsTimeout:
		return "dimensions_timeout"
	case KindRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// Retryable はバックオフ付きで再試行してよい分類かどうかを返すのだ。
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindOverloaded, KindTransient5xx:
		return true
	}
	return false
}

// TriggersFallback は下位バックエンドへの切り替え対象かどうかを返すのだ。
func (k ErrorKind) TriggersFallback() bool {
	return k == KindAccessDenied || k == KindModelUnavailable
}

// GenerationError は分類済みの生成エラーです。
type GenerationError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewGenerationError は分類付きのエラーを生成します。
func NewGenerationError(kind ErrorKind, op string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Op: op, Err: err}
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// KindOf はエラーチェーンの最も外側の分類を返します。
// 分類されていないコンテキストの期限切れは一時的な障害として扱うのだ。
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient5xx
	}
	return KindUnknown
}

// UserMessage は通知に表示する人間向けのメッセージを返します。
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindAccessDenied:
		return "画像生成サービスへのアクセスが拒否されました。APIキーや課金設定を確認してください。"
	case KindModelUnavailable:
		return "画像生成モデルが利用できません。"
	case KindInvalidRequest:
		return "生成リクエストが拒否されました。プロンプトや参照画像を見直してください。"
	case KindRateLimited:
		return "利用上限に達しました。しばらくしてから再生成してください。"
	case KindOverloaded, KindTransient5xx:
		return "画像生成サービスが混雑しています。しばらくしてから再生成してください。"
	case KindDimensionsTimeout:
		return "パネルのサイズが確定しなかったため生成できませんでした。"
	case KindRetriesExhausted:
		return "再試行の上限に達したため生成に失敗しました。"
	default:
		return fmt.Sprintf("生成に失敗しました: %v", err)
	}
}
