package publisher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shouni/go-utils/urlpath"
)

// ResolveOutputPath は、ベースとなるディレクトリパスとファイル名から最終的な出力パスを生成します。
// ディレクトリ外を指すファイル名は拒否するのだ。
func ResolveOutputPath(baseDir, fileName string) (string, error) {
	if strings.TrimSpace(baseDir) == "" {
		return "", fmt.Errorf("出力ディレクトリが指定されていません")
	}
	if filepath.IsAbs(fileName) || strings.Contains(fileName, "..") {
		return "", fmt.Errorf("不正なファイル名です: %s", fileName)
	}
	return urlpath.ResolvePath(baseDir, fileName)
}

// extensionFor は MIME タイプから画像ファイルの拡張子を決めるのだ。
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
