package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/skillsenselab/scribeflow/internal/domain"
)

const (
	fieldUsed    = "used"
	fieldLimit   = "limit"
	fieldResetAt = "reset_at"
)

// RedisStore is a CounterStore backed by Redis hashes. HINCRBY provides the
// atomic read-modify-write that keeps counters correct across multiple
// orchestrator instances.
type RedisStore struct {
	rdb       *goredis.Client
	keyPrefix string
	defaults  Defaults
	now       func() time.Time
}

// NewRedisStore creates a Redis-backed counter store. Keys are prefixed
// with keyPrefix followed by a colon separator.
func NewRedisStore(rdb *goredis.Client, keyPrefix string, defaults Defaults) *RedisStore {
	defaults.ApplyDefaults()
	if keyPrefix == "" {
		keyPrefix = "quota"
	}
	return &RedisStore{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		defaults:  defaults,
		now:       time.Now,
	}
}

func (s *RedisStore) key(owner string, kind domain.ResourceKind) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, owner, kind)
}

// ensure initializes limit and reset_at on first touch. HSETNX leaves
// existing values alone, so concurrent initializers cannot clobber a
// counter that billing already adjusted.
func (s *RedisStore) ensure(ctx context.Context, owner string, kind domain.ResourceKind) error {
	key := s.key(owner, kind)
	if err := s.rdb.HSetNX(ctx, key, fieldLimit, s.defaults.LimitFor(kind)).Err(); err != nil {
		return fmt.Errorf("quota: init limit %q: %w", key, err)
	}
	resetAt := s.now().UTC().Add(s.defaults.Period).Unix()
	if err := s.rdb.HSetNX(ctx, key, fieldResetAt, resetAt).Err(); err != nil {
		return fmt.Errorf("quota: init reset_at %q: %w", key, err)
	}
	return nil
}

// Get returns the counter, creating it lazily.
func (s *RedisStore) Get(ctx context.Context, owner string, kind domain.ResourceKind) (domain.QuotaCounter, error) {
	if err := s.ensure(ctx, owner, kind); err != nil {
		return domain.QuotaCounter{}, err
	}

	vals, err := s.rdb.HGetAll(ctx, s.key(owner, kind)).Result()
	if err != nil {
		return domain.QuotaCounter{}, fmt.Errorf("quota: get %q: %w", s.key(owner, kind), err)
	}

	counter := domain.QuotaCounter{OwnerID: owner, Resource: kind}
	counter.Used, _ = strconv.ParseInt(vals[fieldUsed], 10, 64)
	counter.Limit, _ = strconv.ParseInt(vals[fieldLimit], 10, 64)
	if ts, err := strconv.ParseInt(vals[fieldResetAt], 10, 64); err == nil {
		counter.ResetAt = time.Unix(ts, 0).UTC()
	}
	return counter, nil
}

// IncrementUsed atomically adds amount to used via HINCRBY.
func (s *RedisStore) IncrementUsed(ctx context.Context, owner string, kind domain.ResourceKind, amount int64) error {
	if err := s.ensure(ctx, owner, kind); err != nil {
		return err
	}
	if err := s.rdb.HIncrBy(ctx, s.key(owner, kind), fieldUsed, amount).Err(); err != nil {
		return fmt.Errorf("quota: increment %q: %w", s.key(owner, kind), err)
	}
	return nil
}

// IncrementUsedOnce claims token with SETNX before incrementing, so
// redelivered work increments at most once across instances. The claim key
// expires after one quota period, well past any redelivery horizon.
func (s *RedisStore) IncrementUsedOnce(ctx context.Context, owner string, kind domain.ResourceKind, amount int64, token string) (bool, error) {
	claimKey := fmt.Sprintf("%s:claim:%s:%s:%s", s.keyPrefix, owner, kind, token)
	claimed, err := s.rdb.SetNX(ctx, claimKey, 1, s.defaults.Period).Result()
	if err != nil {
		return false, fmt.Errorf("quota: claim %q: %w", claimKey, err)
	}
	if !claimed {
		return false, nil
	}
	return true, s.IncrementUsed(ctx, owner, kind, amount)
}

// SetLimit adjusts the counter's limit.
func (s *RedisStore) SetLimit(ctx context.Context, owner string, kind domain.ResourceKind, limit int64) error {
	if err := s.ensure(ctx, owner, kind); err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.key(owner, kind), fieldLimit, limit).Err(); err != nil {
		return fmt.Errorf("quota: set limit %q: %w", s.key(owner, kind), err)
	}
	return nil
}

// Reset zeroes used and advances resetAt by one period.
func (s *RedisStore) Reset(ctx context.Context, owner string, kind domain.ResourceKind) error {
	key := s.key(owner, kind)
	resetAt := s.now().UTC().Add(s.defaults.Period).Unix()
	if err := s.rdb.HSet(ctx, key, fieldUsed, 0, fieldResetAt, resetAt).Err(); err != nil {
		return fmt.Errorf("quota: reset %q: %w", key, err)
	}
	return nil
}
