package prompts

import (
	"fmt"
	"strings"
)

const (
	// CinematicTags はコア指示に常に付与する画風キーワードです。
	CinematicTags = "cinematic composition, high resolution, sharp focus"

	// NegativePanelPrompt はサブパネル画像に描いてはいけない要素なのだ。
	NegativePanelPrompt = "speech bubble, dialogue balloon, text, alphabet, letters, words, signatures, watermark, username, low quality, distorted, bad anatomy"

	// RenderingStyle は全サブパネル共通のレンダリング指示です。
	RenderingStyle = `### GLOBAL VISUAL STYLE ###
- RENDERING: Sharp clean lineart, vibrant colors, no blurring, high contrast, cinematic manga lighting.`

	continuityInstruction = `### CONTINUITY REFERENCE ###
The image above is the IMMEDIATELY PRECEDING PANEL. Match its characters (faces, hair, outfits) and its environment exactly for consistency, while the action progresses to the new scene described below. Do not copy its composition.`

	narrativeHeader = "### STORY SO FAR (context only, do not draw these moments) ###"

	styleNegativeConstraint = "Copy ONLY the rendering technique of this reference (line work, color palette, shading). Do NOT reproduce any character, object, or composition that appears in it."
)

// sanitizeInline は改行を空白に置き換えて1行に正規化します。
func sanitizeInline(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}

// buildNarrativeBlock は直前のプロンプト群を "Panel N (PREVIOUS): ..." 形式で並べます。
func buildNarrativeBlock(prompts []string) string {
	var sb strings.Builder
	sb.WriteString(narrativeHeader)
	for i, p := range prompts {
		sb.WriteString(fmt.Sprintf("\nPanel %d (PREVIOUS): %s", i+1, sanitizeInline(p)))
	}
	return sb.String()
}

// buildCoreInstruction は画風キーワード、ショット指定とカメラアングル、シーン本文の順で組み立てるのだ。
func buildCoreInstruction(styleSuffix, shotType, cameraAngle, prompt string) string {
	var sb strings.Builder
	sb.WriteString(RenderingStyle)
	sb.WriteString("\n- KEYWORDS: ")
	sb.WriteString(CinematicTags)
	if s := strings.TrimSpace(styleSuffix); s != "" {
		sb.WriteString(", ")
		sb.WriteString(s)
	}
	sb.WriteString("\n- AVOID: ")
	sb.WriteString(NegativePanelPrompt)
	sb.WriteString("\n\n### SCENE ###\n")
	if s := sanitizeInline(shotType); s != "" {
		sb.WriteString(fmt.Sprintf("Shot: %s. ", s))
	}
	if s := sanitizeInline(cameraAngle); s != "" {
		sb.WriteString(fmt.Sprintf("Camera angle: %s. ", s))
	}
	sb.WriteString(strings.TrimSpace(prompt))
	return sb.String()
}
