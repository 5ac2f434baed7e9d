package prompts

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

// GenerationInput はサブパネル1枚分のリクエストを組み立てるための入力です。
type GenerationInput struct {
	SubPanel        domain.SubPanel
	Width           float64
	Height          float64
	Styles          []domain.StyleReference
	Characters      []domain.Character
	Objects         []domain.ObjectAsset
	Backgrounds     []domain.BackgroundAsset
	NarrativeWindow []string
	ContinuityImage string
}

// GenerationRequest は順序付きのリクエスト要素と出力設定なのだ。
type GenerationRequest struct {
	Parts          []domain.RequestPart
	AspectRatio    string
	ResolutionTier string
}

// Assembler は一貫性を保つための生成コンテキストを固定順で組み立てます。
type Assembler struct {
	decoder     *ReferenceDecoder
	styleSuffix string
	window      int
}

// NewAssembler は新しい Assembler を生成します。window は直前プロンプトの最大件数です。
func NewAssembler(decoder *ReferenceDecoder, styleSuffix string, window int) *Assembler {
	return &Assembler{decoder: decoder, styleSuffix: styleSuffix, window: window}
}

// BuildGenerationRequest はリクエスト要素を次の順で組み立てます。
//  1. 連続性アンカー画像と指示
//  2. 直前プロンプトの物語ウィンドウ
//  3. コア指示（画風キーワード、ショット、シーン）
//  4. 背景、画風、小道具の参照とキャラクター一覧
//  5. キャラクターごとの記述ブロックと参照画像
//
// 解釈できない参照画像は黙って除外し、リクエスト全体は失敗させません。
func (a *Assembler) BuildGenerationRequest(in GenerationInput) GenerationRequest {
	var parts []domain.RequestPart
	add := func(p ...domain.RequestPart) { parts = append(parts, p...) }

	if in.ContinuityImage != "" {
		if img, ok := a.decoder.Decode(in.ContinuityImage); ok {
			add(img, domain.TextPart(continuityInstruction))
		} else {
			slog.Debug("Dropped unparseable continuity image", "sub_panel_id", in.SubPanel.ID)
		}
	}

	if window := a.boundWindow(in.NarrativeWindow); len(window) > 0 {
		add(domain.TextPart(buildNarrativeBlock(window)))
	}

	add(domain.TextPart(buildCoreInstruction(a.styleSuffix, in.SubPanel.ShotType, in.SubPanel.CameraAngle, in.SubPanel.Prompt)))

	for _, bg := range in.Backgrounds {
		add(a.assetParts(fmt.Sprintf("BACKGROUND / SETTING REFERENCE: %s. %s", bg.Name, sanitizeInline(bg.Description)),
			fmt.Sprintf("Use the setting named %q.", nameOf(bg.Name, bg.Image)), bg.Image)...)
	}
	for _, st := range in.Styles {
		add(a.assetParts(fmt.Sprintf("ART STYLE REFERENCE: %s. %s", st.Name, styleNegativeConstraint),
			fmt.Sprintf("Apply the art style named %q. Use it for rendering technique only.", nameOf(st.Name, st.Image)), st.Image)...)
	}
	for _, obj := range mentionedObjects(in.Objects, in.SubPanel.Prompt) {
		add(a.assetParts(fmt.Sprintf("OBJECT REFERENCE: %s. %s", obj.Name, sanitizeInline(obj.Description)),
			fmt.Sprintf("Draw the object named %q.", nameOf(obj.Name, obj.Image)), obj.Image)...)
	}
	if len(in.Characters) > 0 {
		names := make([]string, len(in.Characters))
		for i, c := range in.Characters {
			names[i] = c.Name
		}
		add(domain.TextPart("CHARACTERS IN THIS PANEL: " + strings.Join(names, ", ")))
	}

	for _, c := range in.Characters {
		add(domain.TextPart(characterBlock(c)))
		if c.Image == "" || domain.IsPlaceholder(c.Image) {
			continue
		}
		if img, ok := a.decoder.Decode(c.Image); ok {
			add(img)
		}
	}

	return GenerationRequest{
		Parts:          parts,
		AspectRatio:    SnapAspectRatio(in.Width, in.Height),
		ResolutionTier: ResolutionTier(in.Width, in.Height),
	}
}

func (a *Assembler) boundWindow(prompts []string) []string {
	if a.window <= 0 {
		return nil
	}
	if len(prompts) > a.window {
		return prompts[len(prompts)-a.window:]
	}
	return prompts
}

// assetParts は画像付き参照なら説明文と画像を、プレースホルダーなら名前指示のテキストだけを返すのだ。
func (a *Assembler) assetParts(description, placeholderText, image string) []domain.RequestPart {
	if domain.IsPlaceholder(image) {
		return []domain.RequestPart{domain.TextPart(placeholderText)}
	}
	img, ok := a.decoder.Decode(image)
	if !ok {
		return nil
	}
	return []domain.RequestPart{domain.TextPart(description), img}
}

func nameOf(name, image string) string {
	if domain.IsPlaceholder(image) {
		if n := domain.PlaceholderName(image); n != "" {
			return n
		}
	}
	return name
}

// characterBlock は値のある外見項目だけを固定順で連結します。
func characterBlock(c domain.Character) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### CHARACTER: %s ###", c.Name))
	for _, f := range c.Descriptors() {
		sb.WriteString(fmt.Sprintf("\n- %s: %s", f.Label, sanitizeInline(f.Value)))
	}
	if domain.IsPlaceholder(c.Image) {
		sb.WriteString(fmt.Sprintf("\n- Style: %s", domain.PlaceholderName(c.Image)))
	}
	return sb.String()
}

// mentionedObjects はプロンプト中に名前が現れる小道具をライブラリ順で返します。
func mentionedObjects(objects []domain.ObjectAsset, prompt string) []domain.ObjectAsset {
	lower := strings.ToLower(prompt)
	var out []domain.ObjectAsset
	for _, o := range objects {
		if n := strings.ToLower(strings.TrimSpace(o.Name)); n != "" && strings.Contains(lower, n) {
			out = append(out, o)
		}
	}
	return out
}
