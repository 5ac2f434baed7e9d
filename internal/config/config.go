package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	studio "github.com/shouni/go-manga-studio/pkg/config"

	"github.com/pelletier/go-toml/v2"
	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultAddr       = ":8080"
	DefaultDriver     = DriverMemory
	DefaultSQLitePath = "data/projects.db"
	DefaultOutputDir  = "output"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config はアプリケーション全体の環境設定（APIキーやクラウド設定）を保持する構造体なのだ。
type Config struct {
	Studio  studio.Config
	Addr    string
	Storage StorageConfig
	Log     LogConfig
}

// StorageConfig はプロジェクトの永続化先です。
type StorageConfig struct {
	Driver        string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LogConfig は slog の出力設定なのだ。
type LogConfig struct {
	Level  string
	Format string
}

// fileConfig は TOML 設定ファイルの形です。期間は "1.5s" のような文字列で書くのだ。
type fileConfig struct {
	Addr string `toml:"addr"`
	Log  struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Storage struct {
		Driver     string `toml:"driver"`
		SQLitePath string `toml:"sqlite_path"`
		RedisAddr  string `toml:"redis_addr"`
		RedisDB    *int   `toml:"redis_db"`
	} `toml:"storage"`
	Models struct {
		Text     string `toml:"text"`
		Quality  string `toml:"quality"`
		Standard string `toml:"standard"`
	} `toml:"models"`
	Gate struct {
		Ceiling  int    `toml:"ceiling"`
		Interval string `toml:"interval"`
	} `toml:"gate"`
	Retry struct {
		MaxAttempts  int    `toml:"max_attempts"`
		QuotaBase    string `toml:"quota_base"`
		OverloadBase string `toml:"overload_base"`
		MaxJitter    string `toml:"max_jitter"`
	} `toml:"retry"`
	Generation struct {
		StyleSuffix      string  `toml:"style_suffix"`
		NarrativeWindow  int     `toml:"narrative_window"`
		UpscaleFactor    float64 `toml:"upscale_factor"`
		DimensionTimeout string  `toml:"dimension_timeout"`
		RequestTimeout   string  `toml:"request_timeout"`
	} `toml:"generation"`
	Persistence struct {
		SaveDebounce string `toml:"save_debounce"`
	} `toml:"persistence"`
}

// LoadConfig は既定値、TOML ファイル（path が空なら読まない）、環境変数の順に設定を重ねて返すのだ！
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Studio:  studio.DefaultConfig(),
		Addr:    DefaultAddr,
		Storage: StorageConfig{Driver: DefaultDriver, SQLitePath: DefaultSQLitePath},
		Log:     LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}

	setString(&c.Addr, fc.Addr)
	setString(&c.Log.Level, fc.Log.Level)
	setString(&c.Log.Format, fc.Log.Format)
	setString(&c.Storage.Driver, fc.Storage.Driver)
	setString(&c.Storage.SQLitePath, fc.Storage.SQLitePath)
	setString(&c.Storage.RedisAddr, fc.Storage.RedisAddr)
	if fc.Storage.RedisDB != nil {
		c.Storage.RedisDB = *fc.Storage.RedisDB
	}

	s := &c.Studio
	setString(&s.GeminiModel, fc.Models.Text)
	setString(&s.ImageQualityModel, fc.Models.Quality)
	setString(&s.ImageStandardModel, fc.Models.Standard)
	setString(&s.StyleSuffix, fc.Generation.StyleSuffix)
	setInt(&s.GateCeiling, fc.Gate.Ceiling)
	setInt(&s.MaxAttempts, fc.Retry.MaxAttempts)
	setInt(&s.NarrativeWindow, fc.Generation.NarrativeWindow)
	if fc.Generation.UpscaleFactor > 0 {
		s.UpscaleFactor = fc.Generation.UpscaleFactor
	}

	durations := []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&s.GateInterval, fc.Gate.Interval, "gate.interval"},
		{&s.QuotaBaseDelay, fc.Retry.QuotaBase, "retry.quota_base"},
		{&s.OverloadBaseDelay, fc.Retry.OverloadBase, "retry.overload_base"},
		{&s.MaxJitter, fc.Retry.MaxJitter, "retry.max_jitter"},
		{&s.DimensionTimeout, fc.Generation.DimensionTimeout, "generation.dimension_timeout"},
		{&s.RequestTimeout, fc.Generation.RequestTimeout, "generation.request_timeout"},
		{&s.SaveDebounce, fc.Persistence.SaveDebounce, "persistence.save_debounce"},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw, d.key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	s := &c.Studio
	s.GeminiAPIKey = env("GEMINI_API_KEY", s.GeminiAPIKey)
	s.ProjectID = env("PROJECT_ID", s.ProjectID)
	s.LocationID = env("REGION", s.LocationID)
	s.GeminiModel = env("GEMINI_MODEL", s.GeminiModel)
	s.ImageQualityModel = env("IMAGE_QUALITY_MODEL", s.ImageQualityModel)
	s.ImageStandardModel = env("IMAGE_STANDARD_MODEL", s.ImageStandardModel)
	s.StyleSuffix = env("IMAGE_PROMPT_SUFFIX", s.StyleSuffix)

	c.Addr = env("ADDR", c.Addr)
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env("LOG_FORMAT", c.Log.Format)
	c.Storage.Driver = env("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.SQLitePath = env("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.RedisAddr = env("REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPassword = env("REDIS_PASSWORD", c.Storage.RedisPassword)

	if raw := env("GATE_CEILING", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("GATE_CEILING が整数ではありません: %w", err)
		}
		s.GateCeiling = n
	}
	if err := setDuration(&s.GateInterval, env("GATE_INTERVAL", ""), "GATE_INTERVAL"); err != nil {
		return err
	}
	return nil
}

// Validate は組み合わせとして不正な設定を検出するのだ。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.driver=redis には REDIS_ADDR が必要です")
		}
	default:
		return fmt.Errorf("未対応のストレージドライバです: %q", c.Storage.Driver)
	}
	if c.Studio.GateCeiling < 1 {
		return fmt.Errorf("ゲート上限は1以上が必要です: %d", c.Studio.GateCeiling)
	}
	if c.Studio.MaxAttempts < 1 {
		return fmt.Errorf("最大試行回数は1以上が必要です: %d", c.Studio.MaxAttempts)
	}
	return nil
}

// HasCredentials は Gemini API キーか Vertex AI のプロジェクトが設定されているかを返します。
func (c *Config) HasCredentials() bool {
	return c.Studio.GeminiAPIKey != "" || c.Studio.ProjectID != ""
}

// NewLogger は LogConfig から slog.Logger を作るのだ。
func NewLogger(lc LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(lc.Level)))); err != nil {
		return nil, fmt.Errorf("ログレベルが不正です: %q", lc.Level)
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "", "text", "console":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("ログ形式が不正です: %q", lc.Format)
	}
}

// env は空文字の環境変数を未設定として扱うのだ。
func env(key, def string) string {
	if v := envutil.GetEnv(key, def); v != "" {
		return v
	}
	return def
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw, key string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s の期間指定が不正です: %w", key, err)
	}
	*dst = d
	return nil
}
