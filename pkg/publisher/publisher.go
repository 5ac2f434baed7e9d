// Package publisher はプロジェクトを Markdown と HTML の読み物として書き出します。
package publisher

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/prompts"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Options はパブリッシュ動作を制御する設定項目です。
type Options struct {
	OutputDir string
	// ChapterID が空ならすべての章を書き出すのだ。
	ChapterID string
}

// PublishResult はパブリッシュ処理の結果として生成されたファイルの情報を保持します。
type PublishResult struct {
	MarkdownPath string
	HTMLPath     string
	ImagePaths   []string
	Skipped      int // 画像が未生成、または解釈できなかったサブパネル数
}

const (
	defaultMangaPlotName = "manga.md"
	defaultImageDirName  = "images"
	htmlTemplate         = `<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>body{max-width:800px;margin:0 auto;font-family:sans-serif}img{width:100%%;display:block;margin:8px 0}blockquote{border-left:4px solid #ccc;margin:4px 0;padding-left:8px}</style>
</head>
<body>
%s</body>
</html>
`
)

// MangaPublisher は成果物の永続化とフォーマット変換を担います。
type MangaPublisher struct {
	writer OutputWriter
	md     goldmark.Markdown
}

// NewMangaPublisher は writer に書き出す MangaPublisher を生成します。
func NewMangaPublisher(writer OutputWriter) *MangaPublisher {
	return &MangaPublisher{
		writer: writer,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Publish は画像の保存、Markdownの構築、HTML変換を一括して実行し、生成されたファイル情報を返却するのだ！
func (p *MangaPublisher) Publish(ctx context.Context, project domain.Project, opts Options) (PublishResult, error) {
	result := PublishResult{}

	chapters := project.Chapters
	if opts.ChapterID != "" {
		idx := slices.IndexFunc(chapters, func(ch domain.Chapter) bool { return ch.ID == opts.ChapterID })
		if idx < 0 {
			return result, fmt.Errorf("%w: %s", domain.ErrChapterNotFound, opts.ChapterID)
		}
		chapters = chapters[idx : idx+1]
	}

	markdown, err := ResolveOutputPath(opts.OutputDir, defaultMangaPlotName)
	if err != nil {
		return result, err
	}
	result.MarkdownPath = markdown

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", project.Title))
	for ci, ch := range chapters {
		sb.WriteString(fmt.Sprintf("## %s\n\n", chapterTitle(ch, ci)))
		for pi, pn := range ch.Panels {
			for _, si := range pn.ReadingOrder() {
				sp := pn.SubPanels[si]
				rel, err := p.saveImage(ctx, opts.OutputDir, sp)
				if err != nil {
					return result, err
				}
				if rel == "" {
					result.Skipped++
					continue
				}
				result.ImagePaths = append(result.ImagePaths, filepath.Join(opts.OutputDir, rel))
				sb.WriteString(fmt.Sprintf("![%s](%s)\n\n", altText(sp.Prompt), rel))
			}
			for _, b := range sortedBubbles(pn.Bubbles) {
				sb.WriteString(formatBubble(b.Text))
			}
			if pi < len(ch.Panels)-1 {
				sb.WriteString("---\n\n")
			}
		}
	}
	content := sb.String()

	if err := p.writer.Write(ctx, markdown, []byte(content)); err != nil {
		return result, fmt.Errorf("markdownファイルの書き込みに失敗しました: %w", err)
	}

	slog.Info("Converting to HTML", "title", project.Title, "images", len(result.ImagePaths))
	var body bytes.Buffer
	if err := p.md.Convert([]byte(content), &body); err != nil {
		return result, fmt.Errorf("HTMLの変換に失敗しました: %w", err)
	}
	page := fmt.Sprintf(htmlTemplate, html.EscapeString(project.Title), body.String())

	htmlPath := strings.TrimSuffix(markdown, filepath.Ext(markdown)) + ".html"
	if err := p.writer.Write(ctx, htmlPath, []byte(page)); err != nil {
		return result, fmt.Errorf("HTMLファイルの書き込みに失敗しました: %w", err)
	}
	result.HTMLPath = htmlPath
	return result, nil
}

// saveImage は data URL の画像をファイルに書き出し、Markdown 用の相対パスを返します。
// 画像がない、またはプレースホルダーのサブパネルは空文字を返すのだ。
func (p *MangaPublisher) saveImage(ctx context.Context, outputDir string, sp domain.SubPanel) (string, error) {
	if sp.ImageURL == "" {
		return "", nil
	}
	part, err := prompts.ParseDataURL(sp.ImageURL)
	if err != nil {
		slog.Warn("Skipping sub-panel with unreadable image", "sub_panel_id", sp.ID, "error", err)
		return "", nil
	}
	rel := path.Join(defaultImageDirName, sp.ID+extensionFor(part.MimeType))
	fullPath, err := ResolveOutputPath(outputDir, rel)
	if err != nil {
		return "", fmt.Errorf("出力パスの解決に失敗しました: %w", err)
	}
	if err := p.writer.Write(ctx, fullPath, part.Data); err != nil {
		return "", fmt.Errorf("画像の書き込みに失敗しました %s: %w", fullPath, err)
	}
	return rel, nil
}

func chapterTitle(ch domain.Chapter, idx int) string {
	if t := strings.TrimSpace(ch.Title); t != "" {
		return t
	}
	return fmt.Sprintf("Chapter %d", idx+1)
}

func altText(prompt string) string {
	r := strings.NewReplacer("\n", " ", "[", "(", "]", ")")
	return strings.TrimSpace(r.Replace(prompt))
}

// sortedBubbles は吹き出しを上から下、左から右の順に並べます。
func sortedBubbles(bubbles []domain.DialogueBubble) []domain.DialogueBubble {
	out := slices.Clone(bubbles)
	slices.SortStableFunc(out, func(a, b domain.DialogueBubble) int {
		if a.Y != b.Y {
			if a.Y < b.Y {
				return -1
			}
			return 1
		}
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})
	return out
}
