package domain

import "time"

// DefaultMaxConcurrentGenerations はプロジェクト単位の同時生成数の既定値です。
// 1 のときは直前に生成した画像を次のパネルの連続性アンカーとして使うのだ。
const DefaultMaxConcurrentGenerations = 1

// Project はプロジェクト全体の集約ルートです。
// ネストされたエンティティはすべてこの Project が排他的に所有します。
type Project struct {
	Title          string            `json:"title"`
	Chapters       []Chapter         `json:"chapters"`
	Characters     []Character       `json:"characters"`
	Styles         []StyleReference  `json:"styles"`
	Backgrounds    []BackgroundAsset `json:"backgrounds"`
	Objects        []ObjectAsset     `json:"objects"`
	DialogueStyles []DialogueStyle   `json:"dialogue_styles"`
	KnowledgeFiles []KnowledgeFile   `json:"knowledge_files"`
	Settings       Settings          `json:"settings"`

	// 2つの履歴は独立しており、決して混ぜないのだ。
	AgentHistory []ChatMessage `json:"agent_history"`
	ChatHistory  []ChatMessage `json:"chat_history"`
}

// Settings はレイアウトとスケジューラの設定なのだ。
type Settings struct {
	PageWidth                int `json:"page_width"`
	PanelSpacing             int `json:"panel_spacing"`
	MaxConcurrentGenerations int `json:"max_concurrent_generations"`
}

// Chapter はパネルの順序付きリストなのだ。
type Chapter struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Panels []Panel `json:"panels"`
}

// Panel はグリッドレイアウトとサブパネル、吹き出しを保持します。
// Layout 中に現れる各セルグループ ID には、ちょうど1つの SubPanel が対応しなければなりません。
type Panel struct {
	ID        string           `json:"id"`
	Layout    [][]int          `json:"layout"`
	RowHeight int              `json:"row_height,omitempty"` // 0 のときは正方形セル
	SubPanels []SubPanel       `json:"sub_panels"`
	Bubbles   []DialogueBubble `json:"bubbles"`
}

// SubPanel は生成の最小単位です。
type SubPanel struct {
	ID   string `json:"id"`
	Cell int    `json:"cell"` // Layout 中のセルグループ ID

	Prompt           string   `json:"prompt"`
	ShotType         string   `json:"shot_type,omitempty"`
	CameraAngle      string   `json:"camera_angle,omitempty"`
	CharacterIDs     []string `json:"character_ids,omitempty"`
	StyleIDs         []string `json:"style_ids,omitempty"`
	BackgroundIDs    []string `json:"background_ids,omitempty"`
	DialogueStyleIDs []string `json:"dialogue_style_ids,omitempty"`

	// ContinuitySubPanelID は参照のみで所有関係ではない。存在しない ID は「連続性なし」として扱うのだ。
	ContinuitySubPanelID string `json:"continuity_sub_panel_id,omitempty"`

	ImageURL       string `json:"image_url,omitempty"`
	GenerationMode string `json:"generation_mode,omitempty"`
}

// NeedsImage はプロンプトがあり画像が未生成かどうかを返すのだ。
func (sp SubPanel) NeedsImage() bool {
	return sp.Prompt != "" && sp.ImageURL == ""
}

// DialogueBubble は絶対配置の吹き出しなのだ。
type DialogueBubble struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Z       int     `json:"z"`
	StyleID string  `json:"style_id,omitempty"`
}

// ChatRole は発話者なのだ。
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// ChatMode はどちらの履歴に追記するかを表します。
type ChatMode string

const (
	ChatModeAgent ChatMode = "agent"
	ChatModeChat  ChatMode = "chat"
)

// ContextPill はメッセージに添付された資産参照なのだ。
type ContextPill struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// FunctionCall はエージェントが要求した編集アクションです。
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ChatMessage は会話履歴の1件です。
type ChatMessage struct {
	Role         ChatRole      `json:"role"`
	Text         string        `json:"text"`
	Images       []string      `json:"images,omitempty"`
	ContextPills []ContextPill `json:"context_pills,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
