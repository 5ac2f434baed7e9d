package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// PlaceholderPrefix は「画像を持たず、名前付きスタイルだけを適用する」アセットを示す予約マーカーです。
// この接頭辞で始まる画像値はバイナリとして解釈してはいけません。
const PlaceholderPrefix = "placeholder:"

// OwnerVarious は所有者を推定できなかったオブジェクトに付与する所有者タグなのだ。
const OwnerVarious = "Various"

// Character は一貫性保持のために参照されるキャラクター資産を保持します。
type Character struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"` // data URL もしくはプレースホルダー

	Age            string `json:"age,omitempty"`
	Build          string `json:"build,omitempty"`
	Face           string `json:"face,omitempty"`
	Eyes           string `json:"eyes,omitempty"`
	Hair           string `json:"hair,omitempty"`
	Skin           string `json:"skin,omitempty"`
	UniqueFeatures string `json:"unique_features,omitempty"`
	Outfit         string `json:"outfit,omitempty"`
	Accessories    string `json:"accessories,omitempty"`

	Seed int64 `json:"seed,omitempty"`
}

// DescriptiveField はキャラクターの外見記述1項目なのだ。
type DescriptiveField struct {
	Label string
	Value string
}

// Descriptors は値が入っている外見項目だけを固定順で返します。
// 順序は age, build, face, eyes, hair, skin, unique features, outfit, accessories です。
func (c Character) Descriptors() []DescriptiveField {
	all := []DescriptiveField{
		{"Age", c.Age},
		{"Build", c.Build},
		{"Face", c.Face},
		{"Eyes", c.Eyes},
		{"Hair", c.Hair},
		{"Skin", c.Skin},
		{"Unique features", c.UniqueFeatures},
		{"Outfit", c.Outfit},
		{"Accessories", c.Accessories},
	}
	fields := make([]DescriptiveField, 0, len(all))
	for _, f := range all {
		if v := strings.TrimSpace(f.Value); v != "" {
			fields = append(fields, DescriptiveField{Label: f.Label, Value: v})
		}
	}
	return fields
}

// StyleReference は画風の参照資産なのだ。
type StyleReference struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// BackgroundAsset は背景・舞台設定の参照資産なのだ。
type BackgroundAsset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
}

// ObjectAsset は小道具などの参照資産です。
// Owner は閲覧時のグルーピング用で、生成には影響しません。
type ObjectAsset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
	Owner       string `json:"owner"`
}

// DialogueStyle は吹き出しの見た目の参照資産なのだ。
type DialogueStyle struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// KnowledgeFile はエージェントに渡す補助資料なのだ。
type KnowledgeFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// IsPlaceholder は画像値がプレースホルダーマーカーかどうかを判定します。
func IsPlaceholder(image string) bool {
	return strings.HasPrefix(image, PlaceholderPrefix)
}

// PlaceholderName はプレースホルダーからスタイル名を取り出すのだ。
func PlaceholderName(image string) string {
	return strings.TrimSpace(strings.TrimPrefix(image, PlaceholderPrefix))
}

// GetSeedFromName は名前から決定論的なシード値を生成します。
func GetSeedFromName(name string) int32 {
	hash := sha256.Sum256([]byte(name))
	seed := int32(binary.BigEndian.Uint32(hash[:4]))
	// Geminiのシード値は正の数が望ましいため、最上位ビットを落とすのだ
	return seed & 0x7FFFFFFF
}

// EffectiveSeed は設定済みの Seed、未設定なら名前由来のシードを返します。
func (c Character) EffectiveSeed() int64 {
	if c.Seed != 0 {
		return c.Seed
	}
	return int64(GetSeedFromName(c.Name))
}
