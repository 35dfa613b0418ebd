package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

const keyPrefix = "idem:"

// Config Redis 連線配置
type Config struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_IDEMPOTENCY_TTL"` // key 保存時間
}

// IdempotencyStore 以 SETNX 保留 key，完成後覆寫成回應內容
type IdempotencyStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewClient 建立 Redis client 並 PING 一次
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

func scopedKey(scope, key string) string {
	return keyPrefix + scope + ":" + key
}

// Begin 嘗試保留 key
//
// 回傳:
//
//	*domain.IdempotencyRecord: key 已存在時的紀錄 (可能是 Pending)
//	bool: true 代表這次請求取得 key，處理完要呼叫 Complete 或 Abort
//	error: Redis 錯誤
func (s *IdempotencyStore) Begin(ctx context.Context, scope, key string) (*domain.IdempotencyRecord, bool, error) {
	k := scopedKey(scope, key)
	pending, err := json.Marshal(&domain.IdempotencyRecord{Pending: true})
	if err != nil {
		return nil, false, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, k, pending, s.ttl).Result()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return nil, true, nil
		}
		raw, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			// 剛好過期，再搶一次
			continue
		}
		if err != nil {
			return nil, false, err
		}
		var rec domain.IdempotencyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, false, err
		}
		return &rec, false, nil
	}
	return &domain.IdempotencyRecord{Pending: true}, false, nil
}

// Complete 保存回應
func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, rec *domain.IdempotencyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, scopedKey(scope, key), raw, s.ttl).Err()
}

// Abort 釋放 key，讓之後的重送可以重新執行
func (s *IdempotencyStore) Abort(ctx context.Context, scope, key string) error {
	return s.client.Del(ctx, scopedKey(scope, key)).Err()
}
