package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shouni/go-manga-studio/pkg/backend"
	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/imaging"
	"github.com/shouni/go-manga-studio/pkg/metrics"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/prompts"
	"github.com/shouni/go-manga-studio/pkg/store"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// analysisSchema は画像解析の応答形式なのだ。
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"characters": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":            {Type: genai.TypeString},
					"age":             {Type: genai.TypeString},
					"build":           {Type: genai.TypeString},
					"face":            {Type: genai.TypeString},
					"eyes":            {Type: genai.TypeString},
					"hair":            {Type: genai.TypeString},
					"skin":            {Type: genai.TypeString},
					"unique_features": {Type: genai.TypeString},
					"outfit":          {Type: genai.TypeString},
					"accessories":     {Type: genai.TypeString},
				},
				Required: []string{"name"},
			},
		},
		"objects": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"owner":       {Type: genai.TypeString},
				},
				Required: []string{"name"},
			},
		},
	},
	Required: []string{"characters", "objects"},
}

// AnalysisResult は画像解析で見つかった候補です。
type AnalysisResult struct {
	Characters []domain.Character `json:"characters"`
	Objects    []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Owner       string `json:"owner"`
	} `json:"objects"`
}

// Discovery は生成済み画像を1件ずつ順番に解析し、未登録のキャラクターと小道具を資産化します。
// 並行実行しないことで同じ資産の重複作成を防ぐのだ。
type Discovery struct {
	store       *store.ProjectStore
	text        *backend.GuardedText
	images      *backend.Tiered
	compressor  imaging.Compressor
	styleSuffix string
	notifier    notify.Notifier
	metrics     *metrics.Metrics

	mu       sync.Mutex
	jobs     []AnalysisJob
	inflight int
	wake     chan struct{}
	idle     chan struct{}
}

// DiscoveryArgs は Discovery の依存関係です。
type DiscoveryArgs struct {
	Store       *store.ProjectStore
	Text        *backend.GuardedText
	Images      *backend.Tiered
	Compressor  imaging.Compressor
	StyleSuffix string
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
}

// NewDiscovery は新しい Discovery を生成します。処理を始めるには Run を呼び出します。
func NewDiscovery(args DiscoveryArgs) *Discovery {
	idle := make(chan struct{})
	close(idle)
	return &Discovery{
		store:       args.Store,
		text:        args.Text,
		images:      args.Images,
		compressor:  args.Compressor,
		styleSuffix: args.StyleSuffix,
		notifier:    args.Notifier,
		metrics:     args.Metrics,
		wake:        make(chan struct{}, 1),
		idle:        idle,
	}
}

// Enqueue は解析ジョブを末尾に追加します。ブロックしません。
func (d *Discovery) Enqueue(job AnalysisJob) {
	d.mu.Lock()
	if d.inflight == 0 {
		d.idle = make(chan struct{})
	}
	d.inflight++
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run は ctx が終了するまでジョブを1件ずつ処理します。
func (d *Discovery) Run(ctx context.Context) {
	for {
		job, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		d.process(ctx, job)
		d.done()
	}
}

// Wait はキューが空になり処理中のジョブもなくなるまで待つのだ。
func (d *Discovery) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Discovery) next() (AnalysisJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.jobs) == 0 {
		return AnalysisJob{}, false
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	return job, true
}

func (d *Discovery) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
}

func (d *Discovery) process(ctx context.Context, job AnalysisJob) {
	logger := slog.With("user", job.UserID, "sub_panel_id", job.SubPanelID)

	p, err := d.store.Snapshot(ctx, job.UserID)
	if err != nil {
		logger.Error("Failed to load project for analysis", "error", err)
		return
	}
	result, err := d.analyze(ctx, &p, job)
	if err != nil {
		logger.Warn("Panel analysis failed", "error", err)
		notify.Error(ctx, d.notifier, fmt.Sprintf("コマの解析に失敗しました: %s", domain.UserMessage(err)))
		return
	}

	// 1回の解析結果に同じ名前が重複して含まれても生成は1回だけにするのだ。
	seenCharacters := make(map[string]bool)
	for _, c := range result.Characters {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if key == "" || seenCharacters[key] || p.HasCharacterNamed(c.Name) {
			continue
		}
		seenCharacters[key] = true
		if err := d.createCharacter(ctx, job, c); err != nil {
			logger.Error("Failed to create character", "name", c.Name, "error", err)
			notify.Error(ctx, d.notifier, fmt.Sprintf("キャラクター「%s」の作成に失敗しました: %s", c.Name, domain.UserMessage(err)))
		}
	}
	seenObjects := make(map[string]bool)
	for _, o := range result.Objects {
		key := strings.ToLower(strings.TrimSpace(o.Name))
		if key == "" || seenObjects[key] || p.HasObjectNamed(o.Name) {
			continue
		}
		seenObjects[key] = true
		obj := domain.ObjectAsset{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(o.Name),
			Description: o.Description,
			Owner:       p.OwnerFor(o.Owner),
		}
		if err := d.createObject(ctx, job, obj); err != nil {
			logger.Error("Failed to extract object", "name", o.Name, "error", err)
			notify.Error(ctx, d.notifier, fmt.Sprintf("小道具「%s」の切り出しに失敗しました: %s", obj.Name, domain.UserMessage(err)))
		}
	}
}

func (d *Discovery) analyze(ctx context.Context, p *domain.Project, job AnalysisJob) (AnalysisResult, error) {
	parts := []domain.RequestPart{
		domain.TextPart(prompts.BuildAnalysisPrompt(p, job.Prompt)),
		job.Image,
	}
	raw, err := d.text.Generate(ctx, "analyze_panel", parts, backend.TextConfig{ResponseSchema: analysisSchema})
	if err != nil {
		return AnalysisResult{}, err
	}
	var result AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("解析結果のデコードに失敗しました: %w", err)
	}
	return result, nil
}

// createCharacter はデザインシートを生成してキャラクターを登録します。
// シート生成に失敗した場合はエラーを返し、資産は作らないのだ。
func (d *Discovery) createCharacter(ctx context.Context, job AnalysisJob, c domain.Character) error {
	c.ID = uuid.NewString()
	c.Name = strings.TrimSpace(c.Name)
	seed := c.EffectiveSeed()
	parts := []domain.RequestPart{
		domain.TextPart(prompts.BuildCharacterSheetPrompt(c, d.styleSuffix)),
		job.Image,
	}
	img, err := d.images.Generate(ctx, "character_sheet", parts, backend.ImageConfig{
		AspectRatio:    prompts.AspectWide,
		ResolutionTier: backend.ResolutionTier2K,
		Seed:           &seed,
	})
	if err != nil {
		return err
	}
	c.Seed = img.UsedSeed
	c.Image = d.encode(img.Data, img.MimeType)

	added := false
	_, err = d.store.Update(ctx, job.UserID, func(p *domain.Project) error {
		if p.HasCharacterNamed(c.Name) {
			return nil
		}
		p.Characters = append(p.Characters, c)
		added = true
		return nil
	})
	if err != nil {
		return err
	}
	if added {
		d.metrics.AssetCreated("character")
		notify.Success(ctx, d.notifier, fmt.Sprintf("新しいキャラクター「%s」を追加しました。", c.Name))
	}
	return nil
}

func (d *Discovery) createObject(ctx context.Context, job AnalysisJob, o domain.ObjectAsset) error {
	parts := []domain.RequestPart{
		domain.TextPart(prompts.BuildObjectExtractionPrompt(o)),
		job.Image,
	}
	img, err := d.images.Generate(ctx, "extract_object", parts, backend.ImageConfig{
		AspectRatio:    prompts.AspectSquare,
		ResolutionTier: backend.ResolutionTier1K,
	})
	if err != nil {
		return err
	}
	o.Image = d.encode(img.Data, img.MimeType)

	added := false
	_, err = d.store.Update(ctx, job.UserID, func(p *domain.Project) error {
		if p.HasObjectNamed(o.Name) {
			return nil
		}
		p.Objects = append(p.Objects, o)
		added = true
		return nil
	})
	if err != nil {
		return err
	}
	if added {
		d.metrics.AssetCreated("object")
	}
	return nil
}

func (d *Discovery) encode(data []byte, mimeType string) string {
	if compressed, mt, err := d.compressor.Compress(data); err == nil {
		data, mimeType = compressed, mt
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return prompts.EncodeDataURL(data, mimeType)
}
