// Package builder は設定からリポジトリと Manager を組み立てます。
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shouni/go-manga-studio/internal/config"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/store"
	"github.com/shouni/go-manga-studio/pkg/workflow"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config     *config.Config
	Repository store.Repository
	Manager    *workflow.Manager
}

// OpenRepository は設定されたドライバでプロジェクトの永続化先を開くのだ。
func OpenRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return store.NewMemoryRepository(), nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("データディレクトリの作成に失敗しました: %w", err)
			}
		}
		return store.OpenSQLite(ctx, cfg.Storage.SQLitePath)
	case config.DriverRedis:
		return store.NewRedisRepository(ctx, store.RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
	default:
		return nil, fmt.Errorf("未対応のストレージドライバです: %q", cfg.Storage.Driver)
	}
}

// NewAppContext はリポジトリを開き Manager を初期化します。
// interactive が false の呼び出し元（HTTP）では確認を ctx の事前回答で行うのだ。
func NewAppContext(ctx context.Context, cfg *config.Config, interactive bool) (*AppContext, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("環境変数 GEMINI_API_KEY または PROJECT_ID を設定してください")
	}
	repo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var confirmer notify.Confirmer = notify.ContextConfirmer{}
	if interactive {
		confirmer = notify.AutoConfirm(true)
	}
	m, err := workflow.New(ctx, workflow.ManagerArgs{
		Config:      cfg.Studio,
		Repository:  repo,
		Confirmer:   confirmer,
		EchoNotices: true,
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	return &AppContext{Config: cfg, Repository: repo, Manager: m}, nil
}
