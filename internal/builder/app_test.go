package builder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shouni/go-manga-studio/internal/config"
)

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite ドライバはディレクトリを作って開くこと", func(t *testing.T) {
		cfg := &config.Config{Storage: config.StorageConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "nested", "projects.db"),
		}}
		repo, err := OpenRepository(ctx, cfg)
		if err != nil {
			t.Fatalf("オープンに失敗しました: %v", err)
		}
		defer repo.Close()
	})

	t.Run("未知のドライバはエラーになること", func(t *testing.T) {
		if _, err := OpenRepository(ctx, &config.Config{Storage: config.StorageConfig{Driver: "etcd"}}); err == nil {
			t.Error("エラーが返りませんでした")
		}
	})
}

func TestNewAppContext_RequiresCredentials(t *testing.T) {
	if _, err := NewAppContext(context.Background(), &config.Config{}, true); err == nil {
		t.Error("認証情報なしでエラーが返りませんでした")
	}
}
