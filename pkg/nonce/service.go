package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxGenerateAttempts bounds the collision retry loop in Generate
	DefaultMaxGenerateAttempts = 3
)

// Config holds service-level nonce settings.
type Config struct {
	// TTL is the validity duration applied when a Generate call does not
	// override it.
	TTL time.Duration

	// TimestampTolerance is the acceptance band for caller-supplied
	// timestamps, anchored at issuance. Strictly tighter than TTL.
	TimestampTolerance time.Duration

	// MaxGenerateAttempts bounds the collision retry loop.
	MaxGenerateAttempts int
}

// Metrics receives operation counters. The concrete implementation lives
// outside this package so the core does not depend on a metrics backend.
type Metrics interface {
	NonceIssued()
	FallbackWrite()
	ValidationResult(ok bool)
	NonceConsumed()
	CleanupRemoved(n int64)
}

type noopMetrics struct{}

func (noopMetrics) NonceIssued()            {}
func (noopMetrics) FallbackWrite()          {}
func (noopMetrics) ValidationResult(_ bool) {}
func (noopMetrics) NonceConsumed()          {}
func (noopMetrics) CleanupRemoved(_ int64)  {}

// Stats is a point-in-time breakdown of stored nonce records.
// Expired counts ACTIVE records already past expiry; Active excludes them,
// so Active + Used + Expired == Total.
type Stats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Used    int64 `json:"used"`
	Expired int64 `json:"expired"`
}

// Service owns the nonce business rules: generation, validation,
// single-use consumption, expired-record cleanup and statistics.
//
// All durable state lives in the Store; the service itself is stateless
// apart from the in-process fallback store that absorbs Generate writes
// when the durable backend is unavailable.
type Service struct {
	store    Store
	fallback *MemoryStore
	cfg      Config
	metrics  Metrics
	logger   *zap.Logger

	// now is swapped in tests
	now func() time.Time
}

// NewService creates a nonce service on top of the given store.
func NewService(store Store, cfg Config, metrics Metrics, logger *zap.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TimestampTolerance <= 0 {
		cfg.TimestampTolerance = DefaultTimestampTolerance
	}
	if cfg.MaxGenerateAttempts <= 0 {
		cfg.MaxGenerateAttempts = DefaultMaxGenerateAttempts
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		store:    store,
		fallback: NewMemoryStore(),
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// GenerateOption overrides per-call generation settings.
type GenerateOption func(*generateOptions)

type generateOptions struct {
	ttl time.Duration
}

// WithTTL overrides the configured TTL for a single Generate call.
func WithTTL(d time.Duration) GenerateOption {
	return func(o *generateOptions) {
		o.ttl = d
	}
}

// Generate produces a random nonce value and persists an ACTIVE record for
// it. The returned value is unique among live records; a detected key
// collision is retried up to MaxGenerateAttempts times before failing with
// ErrCollisionExhausted.
//
// If the durable write fails the record is held in the in-process fallback
// store and the nonce is still returned, so authentication is not blocked by
// storage unavailability. Replay protection for such a nonce does not
// survive a process restart; the degradation is logged and counted.
func (s *Service) Generate(ctx context.Context, opts ...GenerateOption) (string, error) {
	o := generateOptions{ttl: s.cfg.TTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		return "", fmt.Errorf("nonce ttl must be positive, got %v", o.ttl)
	}

	for attempt := 1; attempt <= s.cfg.MaxGenerateAttempts; attempt++ {
		value, err := generateValue(Length)
		if err != nil {
			return "", err
		}

		nowMs := s.now().UnixMilli()
		record := &Record{
			Nonce:       value,
			Status:      StatusActive,
			IssuedAtMs:  nowMs,
			ExpiresAtMs: nowMs + o.ttl.Milliseconds(),
		}

		err = s.store.Put(ctx, record)
		if err == nil {
			s.metrics.NonceIssued()
			s.logger.Debug("nonce issued",
				zap.String("nonce", value),
				zap.Int64("expires_at_ms", record.ExpiresAtMs),
			)
			return value, nil
		}

		if errors.Is(err, ErrNonceExists) {
			s.logger.Warn("nonce collision detected",
				zap.Int("attempt", attempt),
			)
			continue
		}

		// Durable write failed. Keep the record in the process-local
		// fallback so the caller still gets a usable nonce.
		if fbErr := s.fallback.Put(ctx, record); fbErr != nil {
			s.logger.Warn("nonce collision in fallback store",
				zap.Int("attempt", attempt),
			)
			continue
		}
		s.metrics.NonceIssued()
		s.metrics.FallbackWrite()
		s.logger.Warn("durable nonce write failed, record held in memory fallback",
			zap.String("nonce", value),
			zap.Error(err),
		)
		return value, nil
	}

	s.logger.Error("nonce generation exhausted collision retries",
		zap.Int("max_attempts", s.cfg.MaxGenerateAttempts),
	)
	return "", ErrCollisionExhausted
}

// Validate checks whether a nonce is fresh: the record exists, is ACTIVE,
// has not passed its own expiry, and the caller-supplied timestamp sits
// inside the tolerance band anchored at issuance. It is read-only;
// consumption is a separate explicit step so signature verification can
// fail between the two without burning the nonce.
//
// Malformed input and every rejection reason yield (false, nil). The reason
// is logged but never distinguishable from the return value, so callers
// cannot be turned into an expired-vs-used-vs-unknown oracle. The error is
// non-nil only when the storage backend is unavailable.
func (s *Service) Validate(ctx context.Context, nonce string, timestampMs int64) (bool, error) {
	if nonce == "" || timestampMs <= 0 {
		s.metrics.ValidationResult(false)
		return false, nil
	}

	record, err := s.lookup(ctx, nonce)
	if err != nil {
		if errors.Is(err, ErrNonceNotFound) {
			s.metrics.ValidationResult(false)
			s.logger.Debug("nonce validation rejected",
				zap.String("reason", "not_found"),
			)
			return false, nil
		}
		return false, err
	}

	ok, reason := s.checkFreshness(record, timestampMs)
	s.metrics.ValidationResult(ok)
	if !ok {
		s.logger.Debug("nonce validation rejected",
			zap.String("reason", reason),
		)
	}
	return ok, nil
}

// checkFreshness applies the status check plus both temporal checks: the
// record's own expiry against wall-clock now, and the caller-supplied
// timestamp against the tolerance band. Both must pass.
func (s *Service) checkFreshness(record *Record, timestampMs int64) (bool, string) {
	if record.Status != StatusActive {
		return false, "already_used"
	}
	if record.Expired(s.now().UnixMilli()) {
		return false, "expired"
	}
	if timestampMs < record.IssuedAtMs {
		return false, "timestamp_before_issuance"
	}
	if timestampMs > record.IssuedAtMs+s.cfg.TimestampTolerance.Milliseconds() {
		return false, "timestamp_outside_tolerance"
	}
	return true, ""
}

// Consume performs the single ACTIVE to USED transition and stamps
// usedAtMs. The transition is conditional at the storage layer, so of two
// concurrent calls for the same nonce at most one returns true.
//
// A missing record is a deliberate no-op: callers are expected to have
// checked existence via Validate, and this path only logs. Malformed input
// is likewise a no-op. The error is non-nil only for storage failures.
func (s *Service) Consume(ctx context.Context, nonce string, usedAtMs int64) (bool, error) {
	if nonce == "" || usedAtMs <= 0 {
		return false, nil
	}

	err := s.store.UpdateStatus(ctx, nonce, StatusActive, StatusUsed, usedAtMs)
	switch {
	case err == nil:
		s.metrics.NonceConsumed()
		s.logger.Debug("nonce consumed",
			zap.String("nonce", nonce),
			zap.Int64("used_at_ms", usedAtMs),
		)
		return true, nil

	case errors.Is(err, ErrStatusConflict):
		s.logger.Warn("nonce consume lost to a prior use",
			zap.String("nonce", nonce),
		)
		return false, nil

	case errors.Is(err, ErrNonceNotFound):
		return s.consumeFallback(ctx, nonce, usedAtMs, false)

	default:
		return s.consumeFallback(ctx, nonce, usedAtMs, true)
	}
}

// consumeFallback retries the transition against the fallback store, for
// nonces that were issued while the durable backend was down. surfaceErr
// distinguishes "durable store said not found" from "durable store failed".
func (s *Service) consumeFallback(ctx context.Context, nonce string, usedAtMs int64, surfaceErr bool) (bool, error) {
	err := s.fallback.UpdateStatus(ctx, nonce, StatusActive, StatusUsed, usedAtMs)
	switch {
	case err == nil:
		s.metrics.NonceConsumed()
		s.logger.Debug("nonce consumed from fallback store",
			zap.String("nonce", nonce),
		)
		return true, nil
	case errors.Is(err, ErrStatusConflict):
		return false, nil
	case errors.Is(err, ErrNonceNotFound):
		if surfaceErr {
			return false, fmt.Errorf("%w: consume failed", ErrStoreUnavailable)
		}
		s.logger.Debug("consume on unknown nonce ignored",
			zap.String("nonce", nonce),
		)
		return false, nil
	default:
		return false, err
	}
}

// CleanupExpired removes records past their expiry from the durable store
// and the fallback. Best-effort and idempotent; lazy expiry in Validate
// keeps correctness even when this never runs.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	nowMs := s.now().UnixMilli()

	removed, err := s.store.DeleteExpiredBefore(ctx, nowMs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	fbRemoved, _ := s.fallback.DeleteExpiredBefore(ctx, nowMs)
	total := removed + fbRemoved

	if total > 0 {
		s.metrics.CleanupRemoved(total)
		s.logger.Info("expired nonces removed",
			zap.Int64("count", total),
		)
	}
	return total, nil
}

// GetStats aggregates record counts by status. Fallback-held records are
// included so nonces issued during an outage stay visible.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	nowMs := s.now().UnixMilli()

	stats, err := collectStats(ctx, s.store, nowMs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// The fallback is a MemoryStore and never fails.
	fbStats, _ := collectStats(ctx, s.fallback, nowMs)
	stats.Total += fbStats.Total
	stats.Active += fbStats.Active
	stats.Used += fbStats.Used
	stats.Expired += fbStats.Expired

	return stats, nil
}

// lookup reads a record from the durable store, falling through to the
// fallback both on a miss (the record may have been issued during an
// outage) and on a backend failure.
func (s *Service) lookup(ctx context.Context, nonce string) (*Record, error) {
	record, err := s.store.Get(ctx, nonce)
	if err == nil {
		return record, nil
	}

	if errors.Is(err, ErrNonceNotFound) {
		return s.fallback.Get(ctx, nonce)
	}

	if record, fbErr := s.fallback.Get(ctx, nonce); fbErr == nil {
		return record, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func collectStats(ctx context.Context, store Store, nowMs int64) (*Stats, error) {
	activeTotal, err := store.CountByStatus(ctx, StatusActive)
	if err != nil {
		return nil, err
	}
	used, err := store.CountByStatus(ctx, StatusUsed)
	if err != nil {
		return nil, err
	}
	expired, err := store.CountExpired(ctx, nowMs)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Total:   activeTotal + used,
		Active:  activeTotal - expired,
		Used:    used,
		Expired: expired,
	}, nil
}
