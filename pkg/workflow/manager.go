// Package workflow は共有トークンゲートを中心に、ユーザーごとの生成キューと解析ワーカーを組み立てます。
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shouni/go-manga-studio/pkg/backend"
	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/gate"
	"github.com/shouni/go-manga-studio/pkg/generator"
	"github.com/shouni/go-manga-studio/pkg/imaging"
	"github.com/shouni/go-manga-studio/pkg/layout"
	"github.com/shouni/go-manga-studio/pkg/metrics"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/pipeline"
	"github.com/shouni/go-manga-studio/pkg/prompts"
	"github.com/shouni/go-manga-studio/pkg/retry"
	"github.com/shouni/go-manga-studio/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager はプロセス全体で1つだけ存在し、トークンゲートと指標、プロジェクトストアを共有します。
type Manager struct {
	cfg        config.Config
	gate       *gate.Gate
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	store      *store.ProjectStore
	assembler  *prompts.Assembler
	compressor imaging.Compressor
	models     backend.ContentGenerator
	measurer   layout.Measurer
	confirmer  notify.Confirmer
	echo       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session は1ユーザー分の生成キュー、解析ワーカー、通知バッファです。
type Session struct {
	UserID    string
	Scheduler *generator.Scheduler
	Discovery *pipeline.Discovery
	Notices   *notify.Buffer
}

// New は設定と永続化先から Manager を初期化します。
// ctx は Manager の寿命で、キャンセルされるとバックグラウンド処理が止まるのだ。
func New(ctx context.Context, args ManagerArgs) (*Manager, error) {
	if args.Repository == nil {
		return nil, fmt.Errorf("Repository は必須です")
	}

	models := args.Models
	if models == nil {
		client, err := backend.NewGenAIClient(ctx, args.Config)
		if err != nil {
			return nil, err
		}
		models = client.Models
	}

	registry := args.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	mets := metrics.New(registry)
	g := gate.New(args.Config.GateCeiling, args.Config.GateInterval, gate.WithGrantHook(mets.GateGrant))
	metrics.RegisterGate(registry, g.Active)

	confirmer := args.Confirmer
	if confirmer == nil {
		confirmer = notify.AutoConfirm(true)
	}

	mctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		cfg:      args.Config,
		gate:     g,
		registry: registry,
		metrics:  mets,
		store:    store.NewProjectStore(args.Repository, args.Config.SaveDebounce),
		assembler: prompts.NewAssembler(
			prompts.NewReferenceDecoder(args.Config.ReferenceCacheTTL),
			args.Config.StyleSuffix,
			args.Config.NarrativeWindow,
		),
		compressor: imaging.Compressor{MaxSide: args.Config.CompressMaxSide, Quality: args.Config.CompressQuality},
		models:     models,
		measurer:   args.Measurer,
		confirmer:  confirmer,
		echo:       args.EchoNotices,
		ctx:        mctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
	}

	// 更新のたびに発見パスを走らせるのだ。
	m.store.OnChange(func(userID string) {
		m.Session(userID).Scheduler.Kick(m.ctx)
	})
	return m, nil
}

// Session はユーザーのセッションを返します。なければ作って解析ワーカーを起動するのだ。
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return s
	}

	buf := notify.NewBuffer(defaultNoticeLimit)
	var notifier notify.Notifier = buf
	if m.echo {
		notifier = notify.Multi{buf, notify.LogNotifier{}}
	}

	policy := retry.NewPolicy(m.gate, m.cfg, retry.WithNotifier(notifier), retry.WithMetrics(m.metrics))
	images := &backend.Tiered{
		Primary:  backend.NewGeminiImage(m.models, m.cfg.ImageQualityModel, backend.TierQuality, true, m.cfg.RequestTimeout),
		Fallback: backend.NewGeminiImage(m.models, m.cfg.ImageStandardModel, backend.TierStandard, false, m.cfg.RequestTimeout),
		Policy:   policy,
	}
	text := &backend.GuardedText{
		Text:   backend.NewGeminiText(m.models, m.cfg.GeminiModel, m.cfg.RequestTimeout),
		Policy: policy,
	}

	discovery := pipeline.NewDiscovery(pipeline.DiscoveryArgs{
		Store:       m.store,
		Text:        text,
		Images:      images,
		Compressor:  m.compressor,
		StyleSuffix: m.cfg.StyleSuffix,
		Notifier:    notifier,
		Metrics:     m.metrics,
	})

	measurer := m.measurer
	if measurer == nil {
		measurer = layout.GridMeasurer{Snapshot: func() domain.Project {
			p, err := m.store.Snapshot(m.ctx, userID)
			if err != nil {
				slog.Warn("Failed to snapshot project for measurement", "user", userID, "error", err)
			}
			return p
		}}
	}

	s := &Session{
		UserID: userID,
		Scheduler: generator.NewScheduler(generator.Args{
			UserID:      userID,
			Store:       m.store,
			GateCeiling: m.gate.Ceiling(),
			Assembler:   m.assembler,
			Images:      images,
			Measurer:    measurer,
			Post:        pipeline.NewPostProcessor(m.store, m.compressor, discovery),
			Config:      m.cfg,
			Notifier:    notifier,
			Confirmer:   m.confirmer,
			Metrics:     m.metrics,
		}),
		Discovery: discovery,
		Notices:   buf,
	}
	m.sessions[userID] = s

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		discovery.Run(m.ctx)
	}()
	slog.Info("Started session", "user", userID)
	return s
}

// Store はプロジェクトストアを返します。
func (m *Manager) Store() *store.ProjectStore { return m.store }

// Registry は指標のレジストリを返すのだ。
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Kick はユーザーの発見パスを起動します。ブロックしません。
func (m *Manager) Kick(userID string) {
	m.Session(userID).Scheduler.Kick(m.ctx)
}

// Generate はユーザーのキューが空になり、解析も終わるまで待ちます。CLI から使うのだ。
func (m *Manager) Generate(ctx context.Context, userID string) error {
	s := m.Session(userID)
	if err := s.Scheduler.Run(ctx); err != nil {
		return err
	}
	if err := s.Discovery.Wait(ctx); err != nil {
		return err
	}
	// 解析で追加された資産による更新がキューを再起動していれば、それも待つ。
	if err := s.Scheduler.WaitIdle(ctx); err != nil {
		return err
	}
	return m.store.Flush(ctx)
}

// Close はバックグラウンド処理を止め、保存待ちを書き出してからストアを閉じます。
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	errs = append(errs, m.store.Close(ctx))
	return errors.Join(errs...)
}
