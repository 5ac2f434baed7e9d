package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

// ProjectStore はユーザーごとのアクティブなプロジェクトを保持する唯一の更新口です。
// 更新は常に最新スナップショットのコピーに対して行い、値ごと差し替えます。
// 変更後の保存はデバウンスされるのだ。
type ProjectStore struct {
	repo     Repository
	debounce time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	onChange []func(userID string)
}

type entry struct {
	mu      sync.Mutex
	project domain.Project
	dirty   bool
	timer   *time.Timer

	// saveMu はスナップショット取得から書き込み完了までを直列化し、古い値の後書きを防ぐ
	saveMu sync.Mutex
}

// NewProjectStore は repo を永続化先とする ProjectStore を生成します。
func NewProjectStore(repo Repository, debounce time.Duration) *ProjectStore {
	return &ProjectStore{
		repo:     repo,
		debounce: debounce,
		entries:  make(map[string]*entry),
	}
}

// OnChange は更新のたびに呼ばれるフックを登録します。
func (s *ProjectStore) OnChange(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Snapshot は最新のプロジェクトのコピーを返します。
func (s *ProjectStore) Snapshot(ctx context.Context, userID string) (domain.Project, error) {
	e, err := s.entry(ctx, userID)
	if err != nil {
		return domain.Project{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.project.Clone(), nil
}

// Update は fn をコピーに適用し、成功した場合だけ差し替えます。
func (s *ProjectStore) Update(ctx context.Context, userID string, fn func(p *domain.Project) error) (domain.Project, error) {
	e, err := s.entry(ctx, userID)
	if err != nil {
		return domain.Project{}, err
	}

	e.mu.Lock()
	next := e.project.Clone()
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		return domain.Project{}, err
	}
	e.project = next
	e.dirty = true
	s.scheduleSave(userID, e)
	out := next.Clone()
	e.mu.Unlock()

	s.mu.Lock()
	hooks := append([]func(string){}, s.onChange...)
	s.mu.Unlock()
	for _, h := range hooks {
		h(userID)
	}
	return out, nil
}

// Flush は保存待ちのプロジェクトをすべて即座に保存します。
func (s *ProjectStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	users := make([]string, 0, len(s.entries))
	for id := range s.entries {
		users = append(users, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range users {
		if err := s.save(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close は保存待ちを書き出してからリポジトリを閉じるのだ。
func (s *ProjectStore) Close(ctx context.Context) error {
	return errors.Join(s.Flush(ctx), s.repo.Close())
}

func (s *ProjectStore) entry(ctx context.Context, userID string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e, nil
	}

	p, err := s.repo.Load(ctx, userID)
	switch {
	case errors.Is(err, ErrProjectNotFound):
		slog.Info("Creating new project", "user", userID)
		p = domain.NewProject("Untitled")
	case err != nil:
		return nil, fmt.Errorf("プロジェクトの読み込みに失敗しました: %w", err)
	}
	e := &entry{project: p}
	s.entries[userID] = e
	return e, nil
}

// scheduleSave は e.mu を保持した状態で呼び出すこと。
func (s *ProjectStore) scheduleSave(userID string, e *entry) {
	if s.debounce <= 0 {
		go func() {
			if err := s.save(context.Background(), userID); err != nil {
				slog.Error("Failed to save project", "user", userID, "error", err)
			}
		}()
		return
	}
	if e.timer != nil {
		e.timer.Reset(s.debounce)
		return
	}
	e.timer = time.AfterFunc(s.debounce, func() {
		if err := s.save(context.Background(), userID); err != nil {
			slog.Error("Failed to save project", "user", userID, "error", err)
		}
	})
}

func (s *ProjectStore) save(ctx context.Context, userID string) error {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	p := e.project
	e.dirty = false
	e.mu.Unlock()

	if err := s.repo.Save(ctx, userID, p); err != nil {
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
		return fmt.Errorf("プロジェクトの保存に失敗しました: %w", err)
	}
	return nil
}
