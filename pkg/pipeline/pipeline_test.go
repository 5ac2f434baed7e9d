package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-manga-studio/pkg/backend"
	"github.com/shouni/go-manga-studio/pkg/config"
	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/gate"
	"github.com/shouni/go-manga-studio/pkg/imaging"
	"github.com/shouni/go-manga-studio/pkg/notify"
	"github.com/shouni/go-manga-studio/pkg/retry"
	"github.com/shouni/go-manga-studio/pkg/store"

	imagedom "github.com/shouni/gemini-image-kit/pkg/domain"
)

const testUser = "u1"

type recordingQueue struct {
	mu   sync.Mutex
	jobs []AnalysisJob
}

func (q *recordingQueue) Enqueue(job AnalysisJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func newStore(t *testing.T, p domain.Project) *store.ProjectStore {
	t.Helper()
	repo := store.NewMemoryRepository()
	if err := repo.Save(context.Background(), testUser, p); err != nil {
		t.Fatal(err)
	}
	return store.NewProjectStore(repo, time.Hour)
}

func oneSubPanel(prompt, image string) domain.Project {
	p := domain.NewProject("test")
	p.Chapters[0].Panels = []domain.Panel{{
		ID:        "p1",
		Layout:    [][]int{{1}},
		SubPanels: []domain.SubPanel{{ID: "s1", Cell: 1, Prompt: prompt, ImageURL: image}},
	}}
	return p
}

func TestPostProcessor_Apply(t *testing.T) {
	ctx := context.Background()
	img := &imagedom.ImageResponse{Data: []byte("raw"), MimeType: "image/png"}

	t.Run("画像が保存され解析キューに投入されること", func(t *testing.T) {
		s := newStore(t, oneSubPanel("scene", ""))
		q := &recordingQueue{}
		pp := NewPostProcessor(s, imaging.Compressor{MaxSide: 64, Quality: 80}, q)

		url, applied, err := pp.Apply(ctx, testUser, Target{SubPanelID: "s1", Prompt: "scene"}, img)
		if err != nil || !applied {
			t.Fatalf("反映されませんでした: applied=%v, err=%v", applied, err)
		}
		if !strings.HasPrefix(url, "data:image/png;base64,") {
			t.Errorf("data URL ではありません: %s", url)
		}
		p, _ := s.Snapshot(ctx, testUser)
		if p.Chapters[0].Panels[0].SubPanels[0].ImageURL != url {
			t.Error("サブパネルに画像が保存されていません")
		}
		if len(q.jobs) != 1 || q.jobs[0].SubPanelID != "s1" || !q.jobs[0].Image.IsImage() {
			t.Errorf("解析ジョブが不正です: %+v", q.jobs)
		}
	})

	cases := []struct {
		name   string
		p      domain.Project
		target Target
	}{
		{"プロンプトが変わっていれば破棄されること", oneSubPanel("edited", ""), Target{SubPanelID: "s1", Prompt: "scene"}},
		{"すでに画像があれば破棄されること", oneSubPanel("scene", "data:image/png;base64,AAAA"), Target{SubPanelID: "s1", Prompt: "scene"}},
		{"サブパネルが削除されていれば破棄されること", oneSubPanel("scene", ""), Target{SubPanelID: "gone", Prompt: "scene"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t, tc.p)
			q := &recordingQueue{}
			pp := NewPostProcessor(s, imaging.Compressor{MaxSide: 64, Quality: 80}, q)

			_, applied, err := pp.Apply(ctx, testUser, tc.target, img)
			if err != nil {
				t.Fatalf("エラーは返らない想定です: %v", err)
			}
			if applied {
				t.Error("古い結果が反映されました")
			}
			if len(q.jobs) != 0 {
				t.Error("破棄した結果が解析キューに投入されました")
			}
			p, _ := s.Snapshot(ctx, testUser)
			if got := p.Chapters[0].Panels[0].SubPanels[0].ImageURL; got != tc.p.Chapters[0].Panels[0].SubPanels[0].ImageURL {
				t.Errorf("画像が書き換えられました: %s", got)
			}
		})
	}
}

type fakeText struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (f *fakeText) GenerateText(context.Context, []domain.RequestPart, backend.TextConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeImages struct {
	mu      sync.Mutex
	fail    bool
	configs []backend.ImageConfig
}

func (f *fakeImages) GenerateImage(_ context.Context, _ []domain.RequestPart, cfg backend.ImageConfig) (*imagedom.ImageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.fail {
		return nil, domain.NewGenerationError(domain.KindInvalidRequest, "test", errors.New("blocked"))
	}
	return &imagedom.ImageResponse{Data: []byte("sheet"), MimeType: "image/png", UsedSeed: 42}, nil
}

func newDiscovery(t *testing.T, s *store.ProjectStore, text *fakeText, images *fakeImages, n notify.Notifier) *Discovery {
	t.Helper()
	cfg := config.DefaultConfig()
	policy := retry.NewPolicy(gate.New(3, 0), cfg,
		retry.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	return NewDiscovery(DiscoveryArgs{
		Store:      s,
		Text:       &backend.GuardedText{Text: text, Policy: policy},
		Images:     &backend.Tiered{Primary: images, Policy: policy},
		Compressor: imaging.Compressor{MaxSide: 64, Quality: 80},
		Notifier:   n,
	})
}

func runDiscovery(t *testing.T, d *Discovery, jobs ...AnalysisJob) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go d.Run(ctx)
	for _, j := range jobs {
		d.Enqueue(j)
	}
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("解析キューが空になりませんでした: %v", err)
	}
}

func analysisJob() AnalysisJob {
	return AnalysisJob{UserID: testUser, SubPanelID: "s1", Prompt: "scene", Image: domain.ImagePart([]byte("panel"), "image/png")}
}

func TestDiscovery(t *testing.T) {
	const response = `{
		"characters": [{"name": "Hero"}, {"name": "Villain", "hair": "black"}],
		"objects": [{"name": "Sword", "owner": "hero"}, {"name": "Lamp", "owner": "nobody"}]
	}`

	t.Run("未登録のキャラクターと小道具だけが資産化されること", func(t *testing.T) {
		p := oneSubPanel("scene", "")
		p.Characters = []domain.Character{{ID: "c1", Name: "Hero"}}
		s := newStore(t, p)
		text := &fakeText{response: response}
		images := &fakeImages{}
		buf := notify.NewBuffer(10)

		runDiscovery(t, newDiscovery(t, s, text, images, buf), analysisJob())

		got, _ := s.Snapshot(context.Background(), testUser)
		if len(got.Characters) != 2 || got.Characters[1].Name != "Villain" {
			t.Fatalf("キャラクターが不正です: %+v", got.Characters)
		}
		villain := got.Characters[1]
		if villain.Seed != 42 || !strings.HasPrefix(villain.Image, "data:image/") || villain.Hair != "black" {
			t.Errorf("作成されたキャラクターが不正です: %+v", villain)
		}
		if len(got.Objects) != 2 {
			t.Fatalf("小道具が不正です: %+v", got.Objects)
		}
		if got.Objects[0].Owner != "Hero" || got.Objects[1].Owner != domain.OwnerVarious {
			t.Errorf("所有者が不正です: %q, %q", got.Objects[0].Owner, got.Objects[1].Owner)
		}
		if images.configs[0].ResolutionTier != backend.ResolutionTier2K || images.configs[1].ResolutionTier != backend.ResolutionTier1K {
			t.Errorf("解像度指定が不正です: %+v", images.configs)
		}
		if notices := buf.Snapshot(); len(notices) != 1 || notices[0].Level != notify.LevelSuccess {
			t.Errorf("通知が不正です: %+v", notices)
		}
	})

	t.Run("同じ画像を2回解析しても資産が重複しないこと", func(t *testing.T) {
		s := newStore(t, oneSubPanel("scene", ""))
		text := &fakeText{response: response}
		runDiscovery(t, newDiscovery(t, s, text, &fakeImages{}, nil), analysisJob(), analysisJob())

		got, _ := s.Snapshot(context.Background(), testUser)
		if len(got.Characters) != 2 || len(got.Objects) != 2 {
			t.Errorf("資産が重複しました: %d 人, %d 個", len(got.Characters), len(got.Objects))
		}
		if text.calls != 2 {
			t.Errorf("期待値 2 回, 実際の値 %d 回", text.calls)
		}
	})

	t.Run("シート生成に失敗したキャラクターは登録されないこと", func(t *testing.T) {
		s := newStore(t, oneSubPanel("scene", ""))
		buf := notify.NewBuffer(10)
		runDiscovery(t, newDiscovery(t, s, &fakeText{response: `{"characters":[{"name":"Ghost"}],"objects":[]}`}, &fakeImages{fail: true}, buf), analysisJob())

		got, _ := s.Snapshot(context.Background(), testUser)
		if len(got.Characters) != 0 {
			t.Errorf("キャラクターが登録されました: %+v", got.Characters)
		}
		if notices := buf.Snapshot(); len(notices) != 1 || notices[0].Level != notify.LevelError {
			t.Errorf("エラー通知が不正です: %+v", notices)
		}
	})

	t.Run("解析に失敗するとエラー通知が出ること", func(t *testing.T) {
		s := newStore(t, oneSubPanel("scene", ""))
		buf := notify.NewBuffer(10)
		text := &fakeText{err: domain.NewGenerationError(domain.KindInvalidRequest, "test", errors.New("rejected"))}
		images := &fakeImages{}
		runDiscovery(t, newDiscovery(t, s, text, images, buf), analysisJob())

		if len(images.configs) != 0 {
			t.Errorf("解析失敗後に画像生成が呼ばれました: %d 回", len(images.configs))
		}
		if notices := buf.Snapshot(); len(notices) != 1 || notices[0].Level != notify.LevelError {
			t.Errorf("エラー通知が不正です: %+v", notices)
		}
	})

	t.Run("小道具の切り出しに失敗するとエラー通知が出ること", func(t *testing.T) {
		s := newStore(t, oneSubPanel("scene", ""))
		buf := notify.NewBuffer(10)
		text := &fakeText{response: `{"characters":[],"objects":[{"name":"Lamp"}]}`}
		runDiscovery(t, newDiscovery(t, s, text, &fakeImages{fail: true}, buf), analysisJob())

		got, _ := s.Snapshot(context.Background(), testUser)
		if len(got.Objects) != 0 {
			t.Errorf("小道具が登録されました: %+v", got.Objects)
		}
		if notices := buf.Snapshot(); len(notices) != 1 || notices[0].Level != notify.LevelError {
			t.Errorf("エラー通知が不正です: %+v", notices)
		}
	})

	t.Run("1回の解析で同名が重複しても生成は1回だけであること", func(t *testing.T) {
		s := newStore(t, oneSubPanel("scene", ""))
		text := &fakeText{response: `{
			"characters": [{"name": "Rival"}, {"name": "rival "}],
			"objects": [{"name": "Cup"}, {"name": "CUP"}]
		}`}
		images := &fakeImages{}
		runDiscovery(t, newDiscovery(t, s, text, images, nil), analysisJob())

		if len(images.configs) != 2 {
			t.Errorf("期待値 2 回, 実際の値 %d 回", len(images.configs))
		}
		got, _ := s.Snapshot(context.Background(), testUser)
		if len(got.Characters) != 1 || len(got.Objects) != 1 {
			t.Errorf("資産が重複しました: %d 人, %d 個", len(got.Characters), len(got.Objects))
		}
	})
}
