// Package store はユーザー ID をキーにしたプロジェクトの永続化と、単一の更新口を提供します。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shouni/go-manga-studio/pkg/domain"
)

// ErrProjectNotFound は保存済みのプロジェクトがないことを表します。
var ErrProjectNotFound = errors.New("プロジェクトが見つかりません")

// Repository はユーザー ID をキーとした不透明なキーバリューストアです。
type Repository interface {
	Load(ctx context.Context, userID string) (domain.Project, error)
	Save(ctx context.Context, userID string, p domain.Project) error
	Close() error
}

func encodeProject(p domain.Project) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトのエンコードに失敗しました: %w", err)
	}
	return data, nil
}

func decodeProject(data []byte) (domain.Project, error) {
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Project{}, fmt.Errorf("プロジェクトのデコードに失敗しました: %w", err)
	}
	return p, nil
}

// MemoryRepository はプロセス内にだけ保持する Repository です。テストや一時利用向けなのだ。
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryRepository は空の MemoryRepository を生成します。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string][]byte)}
}

func (r *MemoryRepository) Load(_ context.Context, userID string) (domain.Project, error) {
	r.mu.RLock()
	data, ok := r.data[userID]
	r.mu.RUnlock()
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	return decodeProject(data)
}

func (r *MemoryRepository) Save(_ context.Context, userID string, p domain.Project) error {
	data, err := encodeProject(p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.data[userID] = data
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Close() error { return nil }
