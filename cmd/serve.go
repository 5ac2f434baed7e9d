package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shouni/go-manga-studio/internal/builder"
	"github.com/shouni/go-manga-studio/internal/server"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTP API を起動するのだ。",
	RunE:  serveCommand,
}

func serveCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := builder.NewAppContext(ctx, appCfg, false)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           server.New(app.Manager).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP サーバーを起動するのだ", "addr", srv.Addr, "storage", appCfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = app.Manager.Close(context.Background())
			return fmt.Errorf("HTTP サーバーが停止しました: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("シャットダウンするのだ")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), app.Manager.Close(shutdownCtx))
}
