package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/shouni/go-manga-studio/internal/builder"
	"github.com/shouni/go-manga-studio/pkg/domain"

	"github.com/spf13/cobra"
)

var projectFile string

// generateCmd は、画像が必要なすべてのサブパネルを生成し終えるまで実行するのだ。
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "未生成のサブパネルをすべて生成しますなのだ。",
	Long: `プロジェクトの読み順でプロンプトがあり画像のないサブパネルを生成するのだ。
--project を指定すると、その JSON でユーザーのプロジェクトを置き換えてから生成するのだよ。`,
	RunE: generateCommand,
}

func init() {
	generateCmd.Flags().StringVarP(&projectFile, "project", "p", "", "取り込むプロジェクト JSON のパスなのだ。")
}

func generateCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := builder.NewAppContext(ctx, appCfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Manager.Close(context.Background()); err != nil {
			slog.Error("終了処理に失敗しました", "error", err)
		}
	}()

	session := app.Manager.Session(flags.UserID)
	if projectFile != "" {
		if err := importProject(ctx, app, projectFile); err != nil {
			return err
		}
	}

	slog.Info("生成パイプラインを起動するのだ！",
		"user", flags.UserID,
		"quality_model", appCfg.Studio.ImageQualityModel,
		"standard_model", appCfg.Studio.ImageStandardModel,
	)
	if err := app.Manager.Generate(ctx, flags.UserID); err != nil {
		return fmt.Errorf("生成中にエラーが発生したのだ: %w", err)
	}

	if failed := session.Scheduler.Failed(); len(failed) > 0 {
		slog.Warn("生成に失敗したサブパネルがあるのだ", "sub_panel_ids", failed)
	}
	slog.Info("すべての生成工程が完了したのだ！")
	return nil
}

func importProject(ctx context.Context, app *builder.AppContext, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("プロジェクトファイルの読み込みに失敗しました: %w", err)
	}
	var incoming domain.Project
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("プロジェクトファイルの解析に失敗しました: %w", err)
	}
	for _, ch := range incoming.Chapters {
		for _, pn := range ch.Panels {
			if err := pn.Validate(); err != nil {
				return err
			}
		}
	}
	_, err = app.Manager.Store().Update(ctx, flags.UserID, func(p *domain.Project) error {
		*p = incoming
		return nil
	})
	return err
}
