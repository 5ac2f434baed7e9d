package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shouni/go-manga-studio/internal/config"

	"github.com/spf13/cobra"
)

// globalFlags はすべてのサブコマンドで共有するフラグなのだ。
type globalFlags struct {
	ConfigPath string
	UserID     string
}

var (
	flags  globalFlags
	appCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "manga-studio",
	Short:         "漫画パネルの生成キューと一貫性コンテキストを管理するスタジオなのだ。",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(flags.ConfigPath)
		if err != nil {
			return err
		}
		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		appCfg = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "TOML 設定ファイルのパスなのだ。")
	rootCmd.PersistentFlags().StringVarP(&flags.UserID, "user", "u", "default", "対象プロジェクトのユーザー ID なのだ。")
	rootCmd.AddCommand(serveCmd, generateCmd, exportCmd)
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// SIGINT と SIGTERM でキャンセルされるコンテキストでコマンドを実行するのだよ。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("コマンドの実行に失敗しました", "error", err)
		stop()
		os.Exit(1)
	}
}
