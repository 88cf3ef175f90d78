package nonce

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// recordKeyPrefix is the Redis key prefix for nonce record hashes
	recordKeyPrefix = "nonce:rec"

	// activeIndexKey and usedIndexKey are sorted sets of nonce values
	// scored by expires_at_ms, partitioned by status. They answer the
	// count queries and drive cleanup.
	activeIndexKey = "nonce:idx:active"
	usedIndexKey   = "nonce:idx:used"

	// DefaultStoreTTLSlack pads the store-native key expiry beyond the
	// record's logical expiry. Logically expired records stay readable for
	// the lazy-expiry checks and stats until cleanup removes them; eviction
	// by Redis itself is only a coarse safety net.
	DefaultStoreTTLSlack = 10 * time.Minute
)

// putScript writes a record hash conditional on key absence and indexes it.
// Returns 0 when the nonce value is already taken.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'status', ARGV[1],
  'issued_at_ms', ARGV[2],
  'expires_at_ms', ARGV[3],
  'used_at_ms', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[6])
return 1
`)

// updateStatusScript performs the conditional status transition and moves
// the index membership. Returns -1 when the record is missing, 0 when the
// current status does not match, 1 on success.
var updateStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'used_at_ms', ARGV[3])
local score = redis.call('ZSCORE', KEYS[2], ARGV[4])
if score then
  redis.call('ZREM', KEYS[2], ARGV[4])
  redis.call('ZADD', KEYS[3], score, ARGV[4])
end
return 1
`)

// RedisStore implements Store on Redis. Records live in one hash per nonce
// with a padded PEXPIRE; the conditional write and the conditional status
// transition run as Lua scripts so concurrent callers cannot interleave.
type RedisStore struct {
	client *redis.Client
	slack  time.Duration
	logger *zap.Logger
}

// Compile-time interface compliance check
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed nonce store with the default
// store-TTL slack.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return NewRedisStoreWithSlack(client, DefaultStoreTTLSlack, logger)
}

// NewRedisStoreWithSlack creates a Redis-backed nonce store with a custom
// store-TTL slack.
func NewRedisStoreWithSlack(client *redis.Client, slack time.Duration, logger *zap.Logger) *RedisStore {
	if slack <= 0 {
		slack = DefaultStoreTTLSlack
	}
	return &RedisStore{
		client: client,
		slack:  slack,
		logger: logger,
	}
}

// recordKey builds the hash key for a nonce value.
// Format: nonce:rec:{nonce}
func recordKey(nonce string) string {
	return fmt.Sprintf("%s:%s", recordKeyPrefix, nonce)
}

func statusIndexKey(status Status) string {
	if status == StatusUsed {
		return usedIndexKey
	}
	return activeIndexKey
}

func (s *RedisStore) Put(ctx context.Context, record *Record) error {
	pexpireMs := record.ExpiresAtMs - time.Now().UnixMilli() + s.slack.Milliseconds()
	if pexpireMs <= 0 {
		pexpireMs = s.slack.Milliseconds()
	}

	res, err := putScript.Run(ctx, s.client,
		[]string{recordKey(record.Nonce), activeIndexKey},
		string(record.Status),
		record.IssuedAtMs,
		record.ExpiresAtMs,
		record.UsedAtMs,
		pexpireMs,
		record.Nonce,
	).Int64()
	if err != nil {
		s.logger.Error("failed to put nonce",
			zap.String("nonce", record.Nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to put nonce: %w", err)
	}
	if res == 0 {
		return ErrNonceExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, nonce string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(nonce)).Result()
	if err != nil {
		s.logger.Error("failed to get nonce",
			zap.String("nonce", nonce),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNonceNotFound
	}
	return parseRecord(nonce, fields)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, nonce string, from, to Status, usedAtMs int64) error {
	res, err := updateStatusScript.Run(ctx, s.client,
		[]string{recordKey(nonce), statusIndexKey(from), statusIndexKey(to)},
		string(from),
		string(to),
		usedAtMs,
		nonce,
	).Int64()
	if err != nil {
		s.logger.Error("failed to update nonce status",
			zap.String("nonce", nonce),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update nonce status: %w", err)
	}
	switch res {
	case -1:
		return ErrNonceNotFound
	case 0:
		return ErrStatusConflict
	}
	return nil
}

func (s *RedisStore) CountByStatus(ctx context.Context, status Status) (int64, error) {
	count, err := s.client.ZCard(ctx, statusIndexKey(status)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count nonces: %w", err)
	}
	return count, nil
}

func (s *RedisStore) CountExpired(ctx context.Context, nowMs int64) (int64, error) {
	count, err := s.client.ZCount(ctx, activeIndexKey, "-inf", exclusiveMax(nowMs)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired nonces: %w", err)
	}
	return count, nil
}

func (s *RedisStore) DeleteExpiredBefore(ctx context.Context, nowMs int64) (int64, error) {
	var removed int64
	for _, indexKey := range []string{activeIndexKey, usedIndexKey} {
		members, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: exclusiveMax(nowMs),
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan expired nonces: %w", err)
		}
		if len(members) == 0 {
			continue
		}

		keys := make([]string, len(members))
		for i, member := range members {
			keys[i] = recordKey(member)
		}
		// The record key may already be gone via PEXPIRE; deleting the
		// index entry is what matters for the counts.
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete expired nonces: %w", err)
		}
		if err := s.client.ZRemRangeByScore(ctx, indexKey, "-inf", exclusiveMax(nowMs)).Err(); err != nil {
			return removed, fmt.Errorf("failed to trim nonce index: %w", err)
		}
		removed += int64(len(members))
	}
	return removed, nil
}

// exclusiveMax renders an exclusive upper bound for ZCOUNT/ZRANGEBYSCORE,
// matching Record.Expired's strict comparison.
func exclusiveMax(nowMs int64) string {
	return fmt.Sprintf("(%d", nowMs)
}

func parseRecord(nonce string, fields map[string]string) (*Record, error) {
	issuedAt, err := strconv.ParseInt(fields["issued_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt nonce record %q: %w", nonce, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt nonce record %q: %w", nonce, err)
	}
	usedAt, err := strconv.ParseInt(fields["used_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt nonce record %q: %w", nonce, err)
	}

	return &Record{
		Nonce:       nonce,
		Status:      Status(fields["status"]),
		IssuedAtMs:  issuedAt,
		ExpiresAtMs: expiresAt,
		UsedAtMs:    usedAt,
	}, nil
}
