package config

import (
	"time"
)

// デフォルト値の定義
const (
	DefaultGeminiModel        = "gemini-3-flash-preview"
	DefaultImageQualityModel  = "gemini-3-pro-image-preview"
	DefaultImageStandardModel = "gemini-2.5-flash-image"

	DefaultGateCeiling  = 3
	DefaultGateInterval = 1200 * time.Millisecond

	DefaultMaxAttempts          = 4
	DefaultQuotaBaseDelay       = 4 * time.Second
	DefaultOverloadBaseDelay    = 1500 * time.Millisecond
	DefaultMaxJitter            = time.Second
	DefaultFallbackNoticeWindow = 30 * time.Second

	DefaultUpscaleFactor     = 3.5
	DefaultDimensionTimeout  = 5 * time.Second
	DefaultDimensionPoll     = 100 * time.Millisecond
	DefaultNarrativeWindow   = 5
	DefaultSaveDebounce      = time.Second
	DefaultCompressMaxSide   = 2048
	DefaultCompressQuality   = 85
	DefaultReferenceCacheTTL = 10 * time.Minute

	DefaultStyleSuffix = "Japanese anime style, official art, cel-shaded, clean line art, high-quality manga coloring, expressive eyes, vibrant colors, cinematic lighting, masterpiece, ultra-detailed"
)

// Config はスタジオの各コンポーネントを動作させるための基本設定です。
type Config struct {
	// --- AI Model Settings ---
	GeminiModel        string // テキスト解析用
	ImageQualityModel  string // 一次バックエンド（高品質）
	ImageStandardModel string // フォールバック先（標準）

	// --- Google AI (Gemini API) Settings ---
	GeminiAPIKey string

	// --- Vertex AI Settings ---
	ProjectID  string
	LocationID string

	// --- Generation Settings ---
	StyleSuffix     string
	NarrativeWindow int
	UpscaleFactor   float64

	// --- Token Gate ---
	GateCeiling  int
	GateInterval time.Duration

	// --- Timeout & Retries ---
	MaxAttempts          int
	QuotaBaseDelay       time.Duration
	OverloadBaseDelay    time.Duration
	MaxJitter            time.Duration
	FallbackNoticeWindow time.Duration
	RequestTimeout       time.Duration

	// --- Layout Measurement ---
	DimensionTimeout time.Duration
	DimensionPoll    time.Duration

	// --- Post Generation ---
	CompressMaxSide   int
	CompressQuality   int
	ReferenceCacheTTL time.Duration

	// --- Persistence ---
	SaveDebounce time.Duration
}

// DefaultConfig は推奨されるデフォルト設定を返すヘルパー関数です。
func DefaultConfig() Config {
	return Config{
		GeminiModel:          DefaultGeminiModel,
		ImageQualityModel:    DefaultImageQualityModel,
		ImageStandardModel:   DefaultImageStandardModel,
		StyleSuffix:          DefaultStyleSuffix,
		NarrativeWindow:      DefaultNarrativeWindow,
		UpscaleFactor:        DefaultUpscaleFactor,
		GateCeiling:          DefaultGateCeiling,
		GateInterval:         DefaultGateInterval,
		MaxAttempts:          DefaultMaxAttempts,
		QuotaBaseDelay:       DefaultQuotaBaseDelay,
		OverloadBaseDelay:    DefaultOverloadBaseDelay,
		MaxJitter:            DefaultMaxJitter,
		FallbackNoticeWindow: DefaultFallbackNoticeWindow,
		DimensionTimeout:     DefaultDimensionTimeout,
		DimensionPoll:        DefaultDimensionPoll,
		CompressMaxSide:      DefaultCompressMaxSide,
		CompressQuality:      DefaultCompressQuality,
		ReferenceCacheTTL:    DefaultReferenceCacheTTL,
		SaveDebounce:         DefaultSaveDebounce,
	}
}
