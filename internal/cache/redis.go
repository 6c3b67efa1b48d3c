// Package cache реализует хранение истории сканирований в Redis
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"predmaint-service/internal/models"
)

const (
	// ScansKeyPrefix префикс списка сканирований сессии
	ScansKeyPrefix = "scans:"
	// ScansTotalKey счетчик всех сканирований
	ScansTotalKey = "scans:total"
	// AlertsTotalKey счетчик критических результатов
	AlertsTotalKey = "alerts:total"
	// MaxScansPerSession сколько последних сканирований хранить
	MaxScansPerSession = 100
	// ScansTTL время жизни истории сессии
	ScansTTL = 1 * time.Hour
)

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// ScansKey возвращает ключ истории сессии
func ScansKey(sessionID string) string {
	return ScansKeyPrefix + sessionID
}

// CacheScan сохраняет запись сканирования и обновляет счетчики
func (r *RedisCache) CacheScan(ctx context.Context, rec models.ScanRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal scan record: %w", err)
	}

	key := ScansKey(rec.SessionID)

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, MaxScansPerSession-1)
	pipe.Expire(ctx, key, ScansTTL)
	pipe.Incr(ctx, ScansTotalKey)
	if rec.Assessment.Critical() {
		pipe.Incr(ctx, AlertsTotalKey)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache scan: %w", err)
	}
	return nil
}

// GetRecentScans возвращает последние count сканирований сессии (новые первыми)
func (r *RedisCache) GetRecentScans(ctx context.Context, sessionID string, count int64) ([]models.ScanRecord, error) {
	data, err := r.client.LRange(ctx, ScansKey(sessionID), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent scans: %w", err)
	}

	records := make([]models.ScanRecord, 0, len(data))
	for _, d := range data {
		var rec models.ScanRecord
		if err := json.Unmarshal([]byte(d), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// DeleteScans удаляет историю сессии
func (r *RedisCache) DeleteScans(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, ScansKey(sessionID)).Err()
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
