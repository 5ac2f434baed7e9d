package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

func sampleProject() domain.Project {
	p := domain.NewProject("sample")
	p.Chapters[0].Panels = []domain.Panel{{
		ID:        "p1",
		Layout:    [][]int{{1}},
		SubPanels: []domain.SubPanel{{ID: "s1", Cell: 1, Prompt: "hello"}},
	}}
	return p
}

func testRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	if _, err := repo.Load(ctx, "nobody"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("ErrProjectNotFound を期待しましたが %v でした", err)
	}

	if err := repo.Save(ctx, "u1", sampleProject()); err != nil {
		t.Fatalf("保存に失敗しました: %v", err)
	}
	updated := sampleProject()
	updated.Title = "updated"
	if err := repo.Save(ctx, "u1", updated); err != nil {
		t.Fatalf("上書き保存に失敗しました: %v", err)
	}

	got, err := repo.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("読み込みに失敗しました: %v", err)
	}
	if got.Title != "updated" || got.Chapters[0].Panels[0].SubPanels[0].Prompt != "hello" {
		t.Errorf("読み込んだ内容が不正です: %+v", got)
	}
}

func TestMemoryRepository(t *testing.T) {
	testRepository(t, NewMemoryRepository())
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "projects.db"))
	if err != nil {
		t.Fatalf("オープンに失敗しました: %v", err)
	}
	defer repo.Close()
	testRepository(t, repo)
}

func TestRedisRepository(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR が未設定のためスキップします")
	}
	repo, err := NewRedisRepository(context.Background(), RedisOptions{Addr: addr})
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	testRepository(t, repo)
}

func TestProjectStore(t *testing.T) {
	ctx := context.Background()

	t.Run("未保存のユーザーには新規プロジェクトが作られること", func(t *testing.T) {
		s := NewProjectStore(NewMemoryRepository(), time.Hour)
		p, err := s.Snapshot(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Chapters) != 1 {
			t.Errorf("章の数が不正です: %d", len(p.Chapters))
		}
	})

	t.Run("失敗した更新は反映されないこと", func(t *testing.T) {
		s := NewProjectStore(NewMemoryRepository(), time.Hour)
		_, err := s.Update(ctx, "u1", func(p *domain.Project) error {
			p.Title = "broken"
			return errors.New("boom")
		})
		if err == nil {
			t.Fatal("エラーが返りませんでした")
		}
		p, _ := s.Snapshot(ctx, "u1")
		if p.Title == "broken" {
			t.Error("失敗した更新が反映されました")
		}
	})

	t.Run("スナップショットを書き換えても保持値は変わらないこと", func(t *testing.T) {
		s := NewProjectStore(NewMemoryRepository(), time.Hour)
		snap, _ := s.Snapshot(ctx, "u1")
		snap.Chapters[0].Title = "mutated"
		again, _ := s.Snapshot(ctx, "u1")
		if again.Chapters[0].Title == "mutated" {
			t.Error("スナップショット経由で保持値が変更されました")
		}
	})

	t.Run("Flush でデバウンス中の変更が保存されること", func(t *testing.T) {
		repo := NewMemoryRepository()
		s := NewProjectStore(repo, time.Hour)
		var changes atomic.Int32
		s.OnChange(func(string) { changes.Add(1) })

		if _, err := s.Update(ctx, "u1", func(p *domain.Project) error {
			p.Title = "saved"
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.Load(ctx, "u1"); !errors.Is(err, ErrProjectNotFound) {
			t.Fatal("デバウンス期間中に保存されました")
		}
		if err := s.Flush(ctx); err != nil {
			t.Fatal(err)
		}
		got, err := repo.Load(ctx, "u1")
		if err != nil || got.Title != "saved" {
			t.Errorf("保存内容が不正です: %+v, %v", got, err)
		}
		if changes.Load() != 1 {
			t.Errorf("変更フックの呼び出し回数が不正です: %d", changes.Load())
		}
	})

	t.Run("デバウンス期間後に自動保存されること", func(t *testing.T) {
		repo := NewMemoryRepository()
		s := NewProjectStore(repo, 10*time.Millisecond)
		_, _ = s.Update(ctx, "u1", func(p *domain.Project) error {
			p.Title = "auto"
			return nil
		})

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if got, err := repo.Load(ctx, "u1"); err == nil && got.Title == "auto" {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("自動保存されませんでした")
	})
}

// slowRepository は最初の Save を release が閉じられるまで止めます。
type slowRepository struct {
	*MemoryRepository
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (r *slowRepository) Save(ctx context.Context, userID string, p domain.Project) error {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.started)
		<-r.release
	}
	return r.MemoryRepository.Save(ctx, userID, p)
}

func TestProjectStore_SaveOrdering(t *testing.T) {
	t.Run("保存が重なっても最後に書かれるのは最新の値であること", func(t *testing.T) {
		ctx := context.Background()
		repo := &slowRepository{
			MemoryRepository: NewMemoryRepository(),
			started:          make(chan struct{}),
			release:          make(chan struct{}),
		}
		s := NewProjectStore(repo, time.Hour)
		setTitle := func(title string) {
			if _, err := s.Update(ctx, "u1", func(p *domain.Project) error {
				p.Title = title
				return nil
			}); err != nil {
				t.Fatal(err)
			}
		}

		setTitle("v1")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Flush(ctx)
		}()
		<-repo.started

		setTitle("v2")
		go func() {
			defer wg.Done()
			_ = s.Flush(ctx)
		}()
		time.Sleep(20 * time.Millisecond)
		close(repo.release)
		wg.Wait()

		got, err := repo.Load(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "v2" {
			t.Errorf("期待値 v2, 実際の値 %s", got.Title)
		}
	})
}
