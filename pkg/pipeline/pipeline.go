// Package pipeline は生成後の画像反映と、非同期のアセット発見処理を担います。
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/imaging"
	"github.com/shouni/go-manga-studio/pkg/prompts"
	"github.com/shouni/go-manga-studio/pkg/store"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
)

var errStale = errors.New("対象サブパネルが生成開始時から変更されています")

// Target は生成結果の反映先と、ディスパッチ時点のプロンプトです。
type Target struct {
	SubPanelID string
	Prompt     string
}

// AnalysisJob は解析待ちの生成済み画像なのだ。
type AnalysisJob struct {
	UserID     string
	SubPanelID string
	Prompt     string
	Image      domain.RequestPart
}

// AnalysisQueue は解析キューへの投入口です。投入はブロックしてはいけません。
type AnalysisQueue interface {
	Enqueue(job AnalysisJob)
}

// PostProcessor は生成画像を圧縮してサブパネルに保存し、解析キューへ回します。
type PostProcessor struct {
	store      *store.ProjectStore
	compressor imaging.Compressor
	analysis   AnalysisQueue
}

// NewPostProcessor は新しい PostProcessor を生成します。analysis は nil でもよいのだ。
func NewPostProcessor(s *store.ProjectStore, c imaging.Compressor, analysis AnalysisQueue) *PostProcessor {
	return &PostProcessor{store: s, compressor: c, analysis: analysis}
}

// Apply は画像をサブパネルへ反映します。
// 対象が削除済み、すでに画像を持つ、またはプロンプトが変わっている場合は反映せず applied=false を返します。
func (pp *PostProcessor) Apply(ctx context.Context, userID string, target Target, img *imagedom.ImageResponse) (imageURL string, applied bool, err error) {
	data, mimeType := img.Data, img.MimeType
	if compressed, mt, cerr := pp.compressor.Compress(img.Data); cerr != nil {
		slog.Warn("Storing image without compression", "sub_panel_id", target.SubPanelID, "error", cerr)
	} else {
		data, mimeType = compressed, mt
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	imageURL = prompts.EncodeDataURL(data, mimeType)

	_, err = pp.store.Update(ctx, userID, func(p *domain.Project) error {
		ref, ok := p.FindSubPanel(target.SubPanelID)
		if !ok {
			return errStale
		}
		sp := p.SubPanel(ref)
		if sp.ImageURL != "" || sp.Prompt != target.Prompt {
			return errStale
		}
		sp.ImageURL = imageURL
		return nil
	})
	if errors.Is(err, errStale) {
		slog.Info("Discarded stale generation result", "user", userID, "sub_panel_id", target.SubPanelID)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if pp.analysis != nil {
		pp.analysis.Enqueue(AnalysisJob{
			UserID:     userID,
			SubPanelID: target.SubPanelID,
			Prompt:     target.Prompt,
			Image:      domain.ImagePart(data, mimeType),
		})
	}
	return imageURL, true, nil
}
