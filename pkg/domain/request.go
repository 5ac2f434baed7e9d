package domain

// RequestPart は生成リクエストを構成する1要素です。Text か画像データのどちらか一方を持つのだ。
type RequestPart struct {
	Text     string
	Data     []byte
	MimeType string
}

// TextPart はテキストのリクエスト要素を生成します。
func TextPart(text string) RequestPart { return RequestPart{Text: text} }

// ImagePart はインライン画像のリクエスト要素を生成します。
func ImagePart(data []byte, mimeType string) RequestPart {
	return RequestPart{Data: data, MimeType: mimeType}
}

// IsImage は画像要素かどうかを返すのだ。
func (p RequestPart) IsImage() bool { return len(p.Data) > 0 }
