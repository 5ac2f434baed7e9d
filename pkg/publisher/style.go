package publisher

import (
	"strings"
)

const (
	dialogueNormal  = "normal"
	dialogueShout   = "shout"
	dialogueThought = "thought"
)

var dialogueTagReplacer = strings.NewReplacer("[shout]", "", "[thought]", "")

// dialogueType はセリフに含まれるメタタグから吹き出しの種類を判定します。
func dialogueType(text string) string {
	switch {
	case strings.Contains(text, "[shout]"):
		return dialogueShout
	case strings.Contains(text, "[thought]"):
		return dialogueThought
	default:
		return dialogueNormal
	}
}

// formatBubble は吹き出しを Markdown の引用行に整形するのだ。
// 叫びは太字、心の声は斜体になります。空のセリフは空文字を返します。
func formatBubble(text string) string {
	kind := dialogueType(text)
	body := strings.TrimSpace(dialogueTagReplacer.Replace(text))
	if body == "" {
		return ""
	}
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		l = strings.TrimSpace(l)
		switch {
		case l == "":
		case kind == dialogueShout:
			l = "**" + l + "**"
		case kind == dialogueThought:
			l = "*" + l + "*"
		}
		lines[i] = "> " + l
	}
	return strings.Join(lines, "  \n") + "\n\n"
}
