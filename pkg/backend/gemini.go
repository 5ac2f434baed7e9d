package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
	"google.golang.org/genai"
)

const (
	TierQuality  = "quality"
	TierStandard = "standard"

	ResolutionTier1K = "1K"
	ResolutionTier2K = "2K"
	ResolutionTier4K = "4K"
)

// ImageConfig は画像生成時の出力設定です。
type ImageConfig struct {
	AspectRatio    string
	ResolutionTier string
	Seed           *int64
}

// TextConfig はテキスト生成時の出力設定です。ResponseSchema があれば JSON で返すのだ。
type TextConfig struct {
	ResponseSchema *genai.Schema
}

// ImageGenerator は画像生成バックエンドの契約です。品質違いの2階層が同じ形を満たします。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, parts []domain.RequestPart, cfg ImageConfig) (*imagedom.ImageResponse, error)
}

// TextGenerator はテキスト生成バックエンドの契約です。
type TextGenerator interface {
	GenerateText(ctx context.Context, parts []domain.RequestPart, cfg TextConfig) (string, error)
}

// GeminiImage は Gemini の画像モデルを呼び出す ImageGenerator です。
type GeminiImage struct {
	models         ContentGenerator
	model          string
	tier           string
	withResolution bool
	timeout        time.Duration
}

// NewGeminiImage は新しい GeminiImage を生成します。
// withResolution が false の階層には解像度指定を送りません。
func NewGeminiImage(models ContentGenerator, model, tier string, withResolution bool, timeout time.Duration) *GeminiImage {
	return &GeminiImage{
		models:         models,
		model:          model,
		tier:           tier,
		withResolution: withResolution,
		timeout:        timeout,
	}
}

// GenerateImage は組み立て済みのリクエスト要素から画像を1枚生成します。
func (g *GeminiImage) GenerateImage(ctx context.Context, parts []domain.RequestPart, cfg ImageConfig) (*imagedom.ImageResponse, error) {
	op := "generate_image/" + g.tier
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	imageCfg := &genai.ImageConfig{AspectRatio: cfg.AspectRatio}
	if g.withResolution {
		imageCfg.ImageSize = cfg.ResolutionTier
	}
	genCfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig:        imageCfg,
	}
	if cfg.Seed != nil {
		genCfg.Seed = genai.Ptr(int32(*cfg.Seed))
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, toContents(parts), genCfg)
	if err != nil {
		return nil, Classify(op, err)
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				slog.Debug("Image generated",
					"model", g.model,
					"tier", g.tier,
					"aspect_ratio", cfg.AspectRatio,
					"duration", time.Since(start).Round(time.Millisecond),
				)
				res := &imagedom.ImageResponse{
					Data:     part.InlineData.Data,
					MimeType: part.InlineData.MIMEType,
				}
				if cfg.Seed != nil {
					res.UsedSeed = *cfg.Seed
				}
				return res, nil
			}
		}
	}
	return nil, domain.NewGenerationError(domain.KindInvalidRequest, op, noImageReason(resp))
}

// GeminiText は Gemini のテキストモデルを呼び出す TextGenerator です。
type GeminiText struct {
	models  ContentGenerator
	model   string
	timeout time.Duration
}

// NewGeminiText は新しい GeminiText を生成します。
func NewGeminiText(models ContentGenerator, model string, timeout time.Duration) *GeminiText {
	return &GeminiText{models: models, model: model, timeout: timeout}
}

// GenerateText はテキスト、もしくはスキーマ付きなら JSON 文字列を返します。
func (g *GeminiText) GenerateText(ctx context.Context, parts []domain.RequestPart, cfg TextConfig) (string, error) {
	const op = "generate_text"
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	genCfg := &genai.GenerateContentConfig{}
	if cfg.ResponseSchema != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = cfg.ResponseSchema
	}
	resp, err := g.models.GenerateContent(ctx, g.model, toContents(parts), genCfg)
	if err != nil {
		return "", Classify(op, err)
	}
	text := resp.Text()
	if text == "" {
		return "", domain.NewGenerationError(domain.KindInvalidRequest, op, noImageReason(resp))
	}
	return text, nil
}

func toContents(parts []domain.RequestPart) []*genai.Content {
	gp := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsImage() {
			gp = append(gp, genai.NewPartFromBytes(p.Data, p.MimeType))
			continue
		}
		if p.Text != "" {
			gp = append(gp, genai.NewPartFromText(p.Text))
		}
	}
	return []*genai.Content{{Role: "user", Parts: gp}}
}

func noImageReason(resp *genai.GenerateContentResponse) error {
	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("プロンプトがブロックされました: %s", resp.PromptFeedback.BlockReason)
	}
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].FinishReason != "" {
		return fmt.Errorf("応答に生成物が含まれていません (finish_reason: %s)", resp.Candidates[0].FinishReason)
	}
	return errors.New("応答に生成物が含まれていません")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
