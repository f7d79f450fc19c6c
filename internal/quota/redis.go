package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sequence-engine/internal/pkg/logger"
)

// keyTTL is how long a day's usage counter outlives its day. Generous so a
// resume late in the week still sees accurate history for recent days.
const keyTTL = 14 * 24 * time.Hour

// RedisLedger implements Ledger on Redis counters. One key per
// (identity, local calendar day); commits are INCRBY, range reads are a
// single pipelined pass.
type RedisLedger struct {
	client       *redis.Client
	defaultLimit int

	// now is injectable for tests.
	now func() time.Time
}

// NewRedisLedger creates a ledger with the given fallback daily limit for
// identities that have no limit key set.
func NewRedisLedger(client *redis.Client, defaultLimit int) *RedisLedger {
	return &RedisLedger{client: client, defaultLimit: defaultLimit, now: time.Now}
}

// SetClock overrides the ledger's clock (tests only).
func (l *RedisLedger) SetClock(now func() time.Time) { l.now = now }

func (l *RedisLedger) usageKey(identity string, day int, timezone string) string {
	return fmt.Sprintf("quota:%s:%s", identity, l.localDate(day, timezone))
}

func limitKey(identity string) string {
	return "quota:limit:" + identity
}

// localDate resolves a day offset to the calendar date in the identity's
// timezone. Unknown zones fall back to UTC with a warning.
func (l *RedisLedger) localDate(day int, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", timezone)
		loc = time.UTC
	}
	return l.now().In(loc).AddDate(0, 0, day).Format("2006-01-02")
}

// DailyLimit returns the identity's configured cap, or the default.
func (l *RedisLedger) DailyLimit(ctx context.Context, identity string) (int, error) {
	val, err := l.client.Get(ctx, limitKey(identity)).Result()
	if err == redis.Nil {
		return l.defaultLimit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily limit for %s: %w", identity, err)
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return l.defaultLimit, nil
	}
	return n, nil
}

// SetDailyLimit stores an explicit cap for the identity.
func (l *RedisLedger) SetDailyLimit(ctx context.Context, identity string, limit int) error {
	return l.client.Set(ctx, limitKey(identity), limit, 0).Err()
}

// RemainingToday returns today's remaining quota for the identity.
func (l *RedisLedger) RemainingToday(ctx context.Context, identity, timezone string) (int, error) {
	days, err := l.RemainingForDays(ctx, identity, 0, 0, timezone)
	if err != nil {
		return 0, err
	}
	return days[0], nil
}

// RemainingForDays reads used counters for the whole window in one pipeline
// and returns limit-used per day, clamped at zero.
func (l *RedisLedger) RemainingForDays(ctx context.Context, identity string, startDay, endDay int, timezone string) (map[int]int, error) {
	if endDay < startDay {
		return nil, fmt.Errorf("invalid day range [%d, %d]", startDay, endDay)
	}

	limit, err := l.DailyLimit(ctx, identity)
	if err != nil {
		return nil, err
	}

	pipe := l.client.Pipeline()
	cmds := make(map[int]*redis.StringCmd, endDay-startDay+1)
	for d := startDay; d <= endDay; d++ {
		cmds[d] = pipe.Get(ctx, l.usageKey(identity, d, timezone))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("quota range read for %s: %w", identity, err)
	}

	out := make(map[int]int, len(cmds))
	for d, cmd := range cmds {
		used := 0
		if val, err := cmd.Result(); err == nil {
			used, _ = strconv.Atoi(val)
		}
		rem := limit - used
		if rem < 0 {
			rem = 0
		}
		out[d] = rem
	}
	return out, nil
}

// Commit atomically adds n to the day's usage counter.
func (l *RedisLedger) Commit(ctx context.Context, identity string, day, n int, timezone string) error {
	if n <= 0 {
		return nil
	}
	key := l.usageKey(identity, day, timezone)
	pipe := l.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(n))
	pipe.Expire(ctx, key, keyTTL+time.Duration(day)*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("quota commit %d on day %d for %s: %w", n, day, identity, err)
	}
	return nil
}
