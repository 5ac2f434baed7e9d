package backend

import (
	"context"

	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/retry"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
)

// Tiered は一次（高品質）と下位（標準）の画像バックエンドを再試行方針で束ねます。
type Tiered struct {
	Primary  ImageGenerator
	Fallback ImageGenerator
	Policy   *retry.Policy
}

// Generate はトークンゲートを1回取得し、一次バックエンドで生成します。
// アクセス拒否かモデル不在のときだけ下位バックエンドに切り替えるのだ。
func (t *Tiered) Generate(ctx context.Context, op string, parts []domain.RequestPart, cfg ImageConfig) (*imagedom.ImageResponse, error) {
	var fallback func(context.Context) (*imagedom.ImageResponse, error)
	if t.Fallback != nil {
		fallback = func(ctx context.Context) (*imagedom.ImageResponse, error) {
			return t.Fallback.GenerateImage(ctx, parts, cfg)
		}
	}
	return retry.Execute(ctx, t.Policy, op,
		func(ctx context.Context) (*imagedom.ImageResponse, error) {
			return t.Primary.GenerateImage(ctx, parts, cfg)
		},
		fallback,
	)
}

// GuardedText はテキスト生成をトークンゲートと再試行方針で包むのだ。
type GuardedText struct {
	Text   TextGenerator
	Policy *retry.Policy
}

// Generate はテキストを生成します。テキストには下位階層がありません。
func (g *GuardedText) Generate(ctx context.Context, op string, parts []domain.RequestPart, cfg TextConfig) (string, error) {
	return retry.Execute(ctx, g.Policy, op, func(ctx context.Context) (string, error) {
		return g.Text.GenerateText(ctx, parts, cfg)
	}, nil)
}
