package notification

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RateLimits - лимиты отправки, 0 означает без ограничения
type RateLimits struct {
	PerHour int
	PerDay  int
}

// RateLimiter считает отправки в скользящих окнах час/сутки.
// Allow учитывает отправку только если оба лимита не превышены
type RateLimiter interface {
	Allow(ctx context.Context, userID uint, limits RateLimits, now time.Time) (Reason, error)
}

// MemoryRateLimiter хранит отметки отправок в памяти процесса
type MemoryRateLimiter struct {
	mu    sync.Mutex
	sends map[uint][]time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{sends: make(map[uint][]time.Time)}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, userID uint, limits RateLimits, now time.Time) (Reason, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dayStart := now.Add(-24 * time.Hour)
	hourStart := now.Add(-time.Hour)

	kept := l.sends[userID][:0]
	hourCount := 0
	for _, t := range l.sends[userID] {
		if !t.After(dayStart) {
			continue
		}
		kept = append(kept, t)
		if t.After(hourStart) {
			hourCount++
		}
	}
	l.sends[userID] = kept

	if limits.PerHour > 0 && hourCount >= limits.PerHour {
		return ReasonHourlyLimit, nil
	}
	if limits.PerDay > 0 && len(kept) >= limits.PerDay {
		return ReasonDailyLimit, nil
	}
	l.sends[userID] = append(kept, now)
	return "", nil
}

// rateLimitScript чистит старые отметки, проверяет оба окна и записывает отправку атомарно.
// Возвращает 0 - можно, 1 - часовой лимит, 2 - суточный лимит
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local hourStart = tonumber(ARGV[2])
local dayStart = tonumber(ARGV[3])
local maxHour = tonumber(ARGV[4])
local maxDay = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', dayStart)
if maxHour > 0 and redis.call('ZCOUNT', key, '(' .. hourStart, '+inf') >= maxHour then
	return 1
end
if maxDay > 0 and redis.call('ZCARD', key) >= maxDay then
	return 2
end
redis.call('ZADD', key, now, ARGV[6])
redis.call('PEXPIRE', key, ARGV[7])
return 0
`)

// RedisRateLimiter хранит отметки отправок в sorted set на пользователя,
// чтобы лимиты были общими для всех экземпляров сервиса
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "notification_rate:"}
}

func (l *RedisRateLimiter) key(userID uint) string {
	return l.prefix + strconv.FormatUint(uint64(userID), 10)
}

func (l *RedisRateLimiter) Allow(ctx context.Context, userID uint, limits RateLimits, now time.Time) (Reason, error) {
	ms := now.UnixMilli()
	res, err := rateLimitScript.Run(ctx, l.client, []string{l.key(userID)},
		ms,
		now.Add(-time.Hour).UnixMilli(),
		now.Add(-24*time.Hour).UnixMilli(),
		limits.PerHour,
		limits.PerDay,
		uuid.NewString(),
		(25 * time.Hour).Milliseconds(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("ошибка при проверке лимита в Redis: %w", err)
	}

	switch res {
	case 1:
		return ReasonHourlyLimit, nil
	case 2:
		return ReasonDailyLimit, nil
	}
	return "", nil
}
