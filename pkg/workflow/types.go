package workflow

import (
	"github.com/shouni/go-manga-studio/pkg/backend"
	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/layout"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNoticeLimit = 100
)

// ManagerArgs は Manager の初期化に必要な依存関係です。
// Models、Measurer、Registry は省略でき、省略時は既定の実装を組み立てるのだ。
type ManagerArgs struct {
	Config     config.Config
	Repository store.Repository

	// Models が nil のときは Config から genai クライアントを作ります。
	Models backend.ContentGenerator

	// Measurer が nil のときはユーザーごとにレイアウト計算で測る GridMeasurer を使います。
	Measurer layout.Measurer

	// Confirmer が nil のときは常に承認します。
	Confirmer notify.Confirmer

	// Registry が nil のときは専用のレジストリを作るのだ。
	Registry *prometheus.Registry

	// EchoNotices が true なら通知を slog にも書き出します。
	EchoNotices bool
}
