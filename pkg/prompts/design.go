package prompts

import (
	"fmt"
	"strings"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

const (
	designPromptBaseTemplate = "Masterpiece character design sheet of %s"
	designLayoutDefault      = "multiple views (front, side, back), standing full body"
	designLayoutPromptFormat = "Layout: %s, side-by-side, separate character charts"
	designBackground         = "plain white background, no text, no props"

	objectExtractionTemplate = `Extract ONLY the object "%s" from the reference image and redraw it alone, centered, on a plain white background. %s
Keep its exact shape, colors and materials. Do not include any character, hand, or scenery.`
)

// BuildAnalysisPrompt は生成済み画像から既知でないキャラクターと小道具を列挙させる指示を作ります。
func BuildAnalysisPrompt(p *domain.Project, scenePrompt string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the attached comic panel image.\n")
	sb.WriteString(fmt.Sprintf("The panel was generated from this scene description: %s\n", sanitizeInline(scenePrompt)))
	sb.WriteString("List every clearly visible named or recurring CHARACTER and every distinctive OBJECT (prop, weapon, vehicle, item) that is NOT already known.\n")
	sb.WriteString("Known characters: ")
	sb.WriteString(joinNames(len(p.Characters), func(i int) string { return p.Characters[i].Name }))
	sb.WriteString("\nKnown objects: ")
	sb.WriteString(joinNames(len(p.Objects), func(i int) string { return p.Objects[i].Name }))
	sb.WriteString("\nFor each new character fill in only the visual fields you can actually see. ")
	sb.WriteString("For each new object give the name of the known character who owns or holds it as owner, or leave owner empty.")
	return sb.String()
}

// BuildCharacterSheetPrompt はキャラクターデザインシートの生成指示を組み立てます。
func BuildCharacterSheetPrompt(c domain.Character, styleSuffix string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf(designPromptBaseTemplate, c.Name))
	parts = append(parts, fmt.Sprintf(designLayoutPromptFormat, designLayoutDefault))
	parts = append(parts, designBackground)
	for _, f := range c.Descriptors() {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(f.Label), sanitizeInline(f.Value)))
	}
	if s := strings.TrimSpace(styleSuffix); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, "Match the character's appearance in the attached reference panel exactly.")
	return strings.Join(parts, ", ")
}

// BuildObjectExtractionPrompt は参照画像から小道具だけを切り出す指示を作るのだ。
func BuildObjectExtractionPrompt(o domain.ObjectAsset) string {
	return fmt.Sprintf(objectExtractionTemplate, o.Name, sanitizeInline(o.Description))
}

func joinNames(n int, name func(int) string) string {
	if n == 0 {
		return "(none)"
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, name(i))
	}
	return strings.Join(names, ", ")
}
