package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "manga-studio:project:"

// RedisOptions は Redis 接続設定なのだ。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisRepository は Redis の文字列キーにプロジェクトを保存します。
type RedisRepository struct {
	rdb *redis.Client
}

// NewRedisRepository は接続を確認したうえで RedisRepository を返します。
func NewRedisRepository(ctx context.Context, opts RedisOptions) (*RedisRepository, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisRepository{rdb: rdb}, nil
}

func (r *RedisRepository) Load(ctx context.Context, userID string) (domain.Project, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Project{}, ErrProjectNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project %s: %w", userID, err)
	}
	return decodeProject(data)
}

func (r *RedisRepository) Save(ctx context.Context, userID string, p domain.Project) error {
	data, err := encodeProject(p)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+userID, data, 0).Err(); err != nil {
		return fmt.Errorf("save project %s: %w", userID, err)
	}
	return nil
}

func (r *RedisRepository) Close() error { return r.rdb.Close() }
