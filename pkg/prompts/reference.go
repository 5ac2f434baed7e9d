package prompts

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var errPlaceholder = errors.New("プレースホルダーは画像として解釈できません")

// ReferenceDecoder は data URL 形式の参照画像をインライン画像に変換し、結果をキャッシュします。
// 同じ画像の同時デコードは singleflight で1回にまとめるのだ。
type ReferenceDecoder struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewReferenceDecoder は TTL 付きのデコーダーを生成します。
func NewReferenceDecoder(ttl time.Duration) *ReferenceDecoder {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReferenceDecoder{cache: cache.New(ttl, 2*ttl)}
}

// Decode は画像値をインライン画像要素に変換します。解釈できない値は ok=false を返すのだ。
func (d *ReferenceDecoder) Decode(value string) (domain.RequestPart, bool) {
	part, err := d.decode(value)
	if err != nil {
		return domain.RequestPart{}, false
	}
	return part, true
}

func (d *ReferenceDecoder) decode(value string) (domain.RequestPart, error) {
	if value == "" {
		return domain.RequestPart{}, errors.New("画像値が空です")
	}
	if domain.IsPlaceholder(value) {
		return domain.RequestPart{}, errPlaceholder
	}
	sum := sha256.Sum256([]byte(value))
	key := hex.EncodeToString(sum[:])
	if v, ok := d.cache.Get(key); ok {
		return v.(domain.RequestPart), nil
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		if v, ok := d.cache.Get(key); ok {
			return v, nil
		}
		part, err := ParseDataURL(value)
		if err != nil {
			return nil, err
		}
		d.cache.SetDefault(key, part)
		return part, nil
	})
	if err != nil {
		return domain.RequestPart{}, err
	}
	part, ok := v.(domain.RequestPart)
	if !ok {
		return domain.RequestPart{}, fmt.Errorf("unexpected return type from singleflight: %T", v)
	}
	return part, nil
}

// ParseDataURL は "data:image/png;base64,..." 形式の文字列を画像要素に変換します。
func ParseDataURL(value string) (domain.RequestPart, error) {
	rest, ok := strings.CutPrefix(value, "data:")
	if !ok {
		return domain.RequestPart{}, errors.New("data URL ではありません")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return domain.RequestPart{}, errors.New("data URL の区切りがありません")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return domain.RequestPart{}, errors.New("base64 でエンコードされていません")
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return domain.RequestPart{}, fmt.Errorf("画像ではない MIME タイプです: %s", mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return domain.RequestPart{}, fmt.Errorf("base64 のデコードに失敗しました: %w", err)
	}
	if len(data) == 0 {
		return domain.RequestPart{}, errors.New("画像データが空です")
	}
	return domain.ImagePart(data, mimeType), nil
}

// EncodeDataURL は画像データを data URL に変換するのだ。
func EncodeDataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
