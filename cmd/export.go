package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-manga-studio/internal/builder"
	"github.com/shouni/go-manga-studio/internal/config"
	"github.com/shouni/go-manga-studio/pkg/publisher"

	"github.com/spf13/cobra"
)

var exportOpts publisher.Options

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "プロジェクトを Markdown と HTML に書き出すのだ。",
	RunE:  exportCommand,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOpts.OutputDir, "output-dir", "o", config.DefaultOutputDir, "出力先ディレクトリなのだ。")
	exportCmd.Flags().StringVar(&exportOpts.ChapterID, "chapter", "", "書き出す章の ID（省略時はすべて）なのだ。")
}

func exportCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repo, err := builder.OpenRepository(ctx, appCfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	project, err := repo.Load(ctx, flags.UserID)
	if err != nil {
		return fmt.Errorf("プロジェクトの読み込みに失敗しました: %w", err)
	}

	res, err := publisher.NewMangaPublisher(publisher.FileWriter{}).Publish(ctx, project, exportOpts)
	if err != nil {
		return err
	}
	slog.Info("書き出しが完了したのだ",
		"markdown", res.MarkdownPath,
		"html", res.HTMLPath,
		"images", len(res.ImagePaths),
		"skipped", res.Skipped,
	)
	return nil
}
