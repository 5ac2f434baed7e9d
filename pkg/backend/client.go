// Package backend は外部生成サービス（Gemini）への画像・テキスト生成呼び出しを提供します。
package backend

import (
	"context"
	"fmt"

	"github.com/shouni/go-manga-studio/pkg/config"

	"google.golang.org/genai"
)

// ContentGenerator は genai の Models が満たす最小限の呼び出し口なのだ。
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenAIClient は設定から genai クライアントを初期化します。
// API キーがなくプロジェクト ID がある場合は Vertex AI を利用するのだ。
func NewGenAIClient(ctx context.Context, cfg config.Config) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiAPIKey == "" && cfg.ProjectID != "" {
		cc = &genai.ClientConfig{
			Project:  cfg.ProjectID,
			Location: cfg.LocationID,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}
	return client, nil
}
