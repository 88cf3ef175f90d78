package nonce

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL is the default nonce validity duration
	DefaultTTL = 5 * time.Minute

	// DefaultTimestampTolerance is the default acceptance band for
	// caller-supplied timestamps, anchored at issuance. Must stay strictly
	// tighter than the TTL.
	DefaultTimestampTolerance = 3 * time.Minute

	// Length is the fixed length of generated nonce values
	Length = 32
)

// Status of a nonce record. Expiry is never stored as a status; it is
// derived from ExpiresAtMs at read time.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusUsed   Status = "USED"
)

// Record is a single issued nonce.
type Record struct {
	Nonce       string `json:"nonce"`
	Status      Status `json:"status"`
	IssuedAtMs  int64  `json:"issued_at_ms"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
	UsedAtMs    int64  `json:"used_at_ms,omitempty"`
}

// Expired reports whether the record is past its expiry at nowMs.
func (r *Record) Expired(nowMs int64) bool {
	return nowMs > r.ExpiresAtMs
}

// Store defines the interface for nonce record storage
// Implementations can use Redis, MySQL, or in-memory backends
type Store interface {
	// Put persists a new record, conditional on the key being absent.
	// Returns ErrNonceExists if the nonce value is already taken.
	Put(ctx context.Context, record *Record) error

	// Get fetches a record by nonce value.
	// Returns ErrNonceNotFound if no record exists.
	Get(ctx context.Context, nonce string) (*Record, error)

	// UpdateStatus transitions a record from one status to another and
	// stamps usedAtMs. The transition is conditional on the current status:
	// a mismatch yields ErrStatusConflict, distinct from ErrNonceNotFound.
	UpdateStatus(ctx context.Context, nonce string, from, to Status, usedAtMs int64) error

	// CountByStatus returns the number of records with the given status
	CountByStatus(ctx context.Context, status Status) (int64, error)

	// CountExpired returns the number of ACTIVE records past expiry at nowMs
	CountExpired(ctx context.Context, nowMs int64) (int64, error)

	// DeleteExpiredBefore removes records whose expiry precedes nowMs and
	// returns the number removed
	DeleteExpiredBefore(ctx context.Context, nowMs int64) (int64, error)
}

// Error definitions
var (
	ErrNonceExists        = errors.New("nonce already exists")
	ErrNonceNotFound      = errors.New("nonce not found")
	ErrStatusConflict     = errors.New("nonce status does not match expected status")
	ErrStoreUnavailable   = errors.New("nonce store unavailable")
	ErrCollisionExhausted = errors.New("could not generate a unique nonce")
)
