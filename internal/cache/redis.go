// Пакет cache — Redis-кэш поверх ledger-а обработанных сообщений.
// Быстрый путь проверки дубликатов: промах кэша уходит в PostgreSQL
// (источник истины), запись в кэш — best-effort.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessedCache — кэш «сообщение уже обработано».
type ProcessedCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New создаёт Redis-кэш и проверяет подключение.
func New(addr string, ttl time.Duration) (*ProcessedCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	return &ProcessedCache{client: client, ttl: ttl}, nil
}

// key возвращает ключ кэша для message_id.
func key(messageID string) string {
	return "processed:" + messageID
}

// Seen проверяет наличие message_id в кэше.
func (c *ProcessedCache) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := c.client.Exists(ctx, key(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("ошибка проверки кэша: %w", err)
	}
	return n > 0, nil
}

// Mark помечает message_id как обработанный.
func (c *ProcessedCache) Mark(ctx context.Context, messageID string) error {
	if err := c.client.Set(ctx, key(messageID), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи в кэш: %w", err)
	}
	return nil
}

// CheckReady проверяет подключение к Redis для health endpoint.
func (c *ProcessedCache) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

// Close закрывает подключение к Redis.
func (c *ProcessedCache) Close() error {
	return c.client.Close()
}
