// Package generator は画像が必要なサブパネルを発見してキューに積み、同時実行上限を守りながら生成します。
package generator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shouni/go-manga-studio/pkg/backend"
	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/layout"
	"github.com/shouni/go-manga-studio/pkg/metrics"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/pipeline"
	"github.com/shouni/go-manga-studio/pkg/prompts"
	"github.com/shouni/go-manga-studio/pkg/store"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Status はサブパネルごとの生成状態なのだ。
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
)

// Scheduler は1ユーザー分の生成キューを管理します。
type Scheduler struct {
	userID      string
	store       *store.ProjectStore
	gateCeiling int
	assembler   *prompts.Assembler
	images      *backend.Tiered
	measurer    layout.Measurer
	post        *pipeline.PostProcessor
	cfg         config.Config
	notifier    notify.Notifier
	confirmer   notify.Confirmer
	metrics     *metrics.Metrics

	mu       sync.Mutex
	status   map[string]Status
	queue    []string
	failed   map[string]string // ID -> 失敗時のプロンプト
	draining bool
	idle     chan struct{}
}

// Args は Scheduler の依存関係です。
type Args struct {
	UserID      string
	Store       *store.ProjectStore
	GateCeiling int
	Assembler   *prompts.Assembler
	Images      *backend.Tiered
	Measurer    layout.Measurer
	Post        *pipeline.PostProcessor
	Config      config.Config
	Notifier    notify.Notifier
	Confirmer   notify.Confirmer
	Metrics     *metrics.Metrics
}

// NewScheduler は新しい Scheduler を生成します。
func NewScheduler(args Args) *Scheduler {
	idle := make(chan struct{})
	close(idle)
	confirmer := args.Confirmer
	if confirmer == nil {
		confirmer = notify.AutoConfirm(true)
	}
	return &Scheduler{
		userID:      args.UserID,
		store:       args.Store,
		gateCeiling: max(args.GateCeiling, 1),
		assembler:   args.Assembler,
		images:      args.Images,
		measurer:    args.Measurer,
		post:        args.Post,
		cfg:         args.Config,
		notifier:    args.Notifier,
		confirmer:   confirmer,
		metrics:     args.Metrics,
		status:      make(map[string]Status),
		failed:      make(map[string]string),
		idle:        idle,
	}
}

// runContext は1回のドレイン（バッチ）に閉じた状態です。
// 直前に生成した画像はバッチをまたいで持ち越さないのだ。
type runContext struct {
	mu        sync.Mutex
	lastImage string
}

func (rc *runContext) last() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lastImage
}

func (rc *runContext) setLast(image string) {
	rc.mu.Lock()
	rc.lastImage = image
	rc.mu.Unlock()
}

// Discover は画像が必要で、キュー待ちでも生成中でもないサブパネルを読み順でキューに積みます。
// 失敗したサブパネルは、プロンプトが変わるか明示的に再生成されるまで積み直しません。
func (s *Scheduler) Discover(ctx context.Context) (int, error) {
	p, err := s.store.Snapshot(ctx, s.userID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, ref := range p.ReadingOrder() {
		sp := p.SubPanel(ref)
		if !sp.NeedsImage() {
			continue
		}
		if st, ok := s.status[sp.ID]; ok && st != StatusIdle {
			continue
		}
		if prompt, ok := s.failed[sp.ID]; ok {
			if prompt == sp.Prompt {
				continue
			}
			delete(s.failed, sp.ID)
		}
		s.status[sp.ID] = StatusQueued
		s.queue = append(s.queue, sp.ID)
		added++
	}
	if added > 0 {
		slog.Debug("Discovered sub-panels", "user", s.userID, "added", added, "queued", len(s.queue))
	}
	s.updateGaugesLocked()
	return added, nil
}

// Kick は発見を行い、ドレインが動いていなければバックグラウンドで開始するのだ。
func (s *Scheduler) Kick(ctx context.Context) {
	if _, err := s.Discover(ctx); err != nil {
		slog.Error("Discovery pass failed", "user", s.userID, "error", err)
		return
	}
	if s.startDrain() {
		go s.drain(ctx)
	}
}

// Run は発見とドレインを行い、キューが空になるまでブロックします。
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Discover(ctx); err != nil {
		return err
	}
	if s.startDrain() {
		s.drain(ctx)
		return ctx.Err()
	}
	return s.WaitIdle(ctx)
}

// WaitIdle は実行中のドレインが終わるまで待ちます。
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) startDrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining || len(s.queue) == 0 {
		return false
	}
	s.draining = true
	s.idle = make(chan struct{})
	return true
}

// drain はキューの先頭から取り出して生成を開始します。
// 同時実行数はプロジェクト設定とトークンゲート上限の小さい方に制限され、
// 完了はすべての結果が揃うまで待つのだ。
func (s *Scheduler) drain(ctx context.Context) {
	rc := &runContext{}
	for {
		p, err := s.store.Snapshot(ctx, s.userID)
		if err != nil {
			slog.Error("Failed to load project for drain", "user", s.userID, "error", err)
			s.finishDrain(true)
			return
		}
		perProject := p.Settings.MaxConcurrent()
		limit := min(perProject, s.gateCeiling)
		strict := perProject == 1

		sem := semaphore.NewWeighted(int64(limit))
		var eg errgroup.Group
		for {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			id, ok := s.pop()
			if !ok {
				sem.Release(1)
				break
			}
			eg.Go(func() error {
				defer sem.Release(1)
				s.generate(ctx, rc, id, strict)
				return nil
			})
		}
		_ = eg.Wait()

		if ctx.Err() != nil {
			s.finishDrain(true)
			return
		}
		if s.finishDrain(false) {
			return
		}
	}
}

// finishDrain はキューが空ならドレイン状態を解除して true を返します。
// force のときはキューに残った項目を idle に戻して終了するのだ。
func (s *Scheduler) finishDrain(force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && len(s.queue) > 0 {
		return false
	}
	for _, id := range s.queue {
		delete(s.status, id)
	}
	s.queue = nil
	s.draining = false
	close(s.idle)
	s.updateGaugesLocked()
	return true
}

func (s *Scheduler) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	s.status[id] = StatusGenerating
	s.updateGaugesLocked()
	return id, true
}

func (s *Scheduler) generate(ctx context.Context, rc *runContext, id string, strict bool) {
	logger := slog.With("user", s.userID, "sub_panel_id", id)
	logger.Info("Starting sub-panel generation")
	start := time.Now()

	outcome, prompt, err := s.render(ctx, rc, id, strict)

	s.mu.Lock()
	delete(s.status, id)
	if err != nil {
		s.failed[id] = prompt
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.metrics.ObserveGeneration(outcome, time.Since(start))
	if err != nil {
		logger.Error("Sub-panel generation failed", "kind", domain.KindOf(err), "error", err)
		notify.Error(ctx, s.notifier, domain.UserMessage(err))
		return
	}
	logger.Info("Sub-panel generation completed", "outcome", outcome, "duration", time.Since(start).Round(time.Millisecond))
}

func (s *Scheduler) render(ctx context.Context, rc *runContext, id string, strict bool) (string, string, error) {
	size, err := layout.WaitForStableSize(ctx, s.measurer, id, s.cfg.DimensionTimeout, s.cfg.DimensionPoll)
	if err != nil {
		prompt := s.currentPrompt(ctx, id)
		return "failed", prompt, err
	}
	target := size.Scale(s.cfg.UpscaleFactor)

	p, err := s.store.Snapshot(ctx, s.userID)
	if err != nil {
		return "failed", "", err
	}
	ref, ok := p.FindSubPanel(id)
	if !ok || !p.SubPanel(ref).NeedsImage() {
		return "discarded", "", nil
	}
	sp := *p.SubPanel(ref)

	req := s.assembler.BuildGenerationRequest(prompts.GenerationInput{
		SubPanel:        sp,
		Width:           target.Width,
		Height:          target.Height,
		Styles:          p.StylesByIDs(sp.StyleIDs),
		Characters:      p.CharactersByIDs(sp.CharacterIDs),
		Objects:         p.Objects,
		Backgrounds:     p.BackgroundsByIDs(sp.BackgroundIDs),
		NarrativeWindow: p.PrecedingPrompts(id, s.cfg.NarrativeWindow),
		ContinuityImage: continuityImage(&p, sp, rc, strict),
	})

	img, err := s.images.Generate(ctx, "generate_sub_panel", req.Parts, backend.ImageConfig{
		AspectRatio:    req.AspectRatio,
		ResolutionTier: req.ResolutionTier,
	})
	if err != nil {
		return "failed", sp.Prompt, err
	}

	imageURL, applied, err := s.post.Apply(ctx, s.userID, pipeline.Target{SubPanelID: id, Prompt: sp.Prompt}, img)
	if err != nil {
		return "failed", sp.Prompt, err
	}
	if !applied {
		return "discarded", sp.Prompt, nil
	}
	if strict {
		rc.setLast(imageURL)
	}
	return "success", sp.Prompt, nil
}

// continuityImage は連続性アンカーを決めます。
// 明示指定があればそれを使い、解決できない ID は「連続性なし」とします。
// 指定がなく同時生成数が1のときは、同じバッチで直前に生成した画像を使うのだ。
func continuityImage(p *domain.Project, sp domain.SubPanel, rc *runContext, strict bool) string {
	if sp.ContinuitySubPanelID != "" {
		ref, ok := p.FindSubPanel(sp.ContinuitySubPanelID)
		if !ok {
			return ""
		}
		return p.SubPanel(ref).ImageURL
	}
	if strict {
		return rc.last()
	}
	return ""
}

func (s *Scheduler) currentPrompt(ctx context.Context, id string) string {
	p, err := s.store.Snapshot(ctx, s.userID)
	if err != nil {
		return ""
	}
	if ref, ok := p.FindSubPanel(id); ok {
		return p.SubPanel(ref).Prompt
	}
	return ""
}

// Statuses は idle 以外のサブパネルの状態を返します。含まれない ID は idle なのだ。
func (s *Scheduler) Statuses() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.status))
	for id, st := range s.status {
		out[id] = st
	}
	return out
}

// StatusOf は1件の状態を返すのだ。
func (s *Scheduler) StatusOf(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[id]; ok {
		return st
	}
	return StatusIdle
}

func (s *Scheduler) updateGaugesLocked() {
	generating := 0
	for _, st := range s.status {
		if st == StatusGenerating {
			generating++
		}
	}
	s.metrics.SetQueue(s.userID, len(s.queue), generating)
}
