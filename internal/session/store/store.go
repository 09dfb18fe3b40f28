package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, redis,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable.
type Store interface {
	Sessions() Sessions
	AuditEvents() AuditEvents

	// ApplyMigrations brings the backing schema up to date. Drivers without
	// a schema (redis) return nil.
	ApplyMigrations() error

	// Ping verifies the backing store is still reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Sessions is the session-token record repository.
//
// The Try* operations are the heart of the rotation protocol: each one is a
// single storage-level conditional write (the condition and the mutation
// happen as one indivisible operation) so that of N concurrent callers
// attempting the same transition at most one wins. Callers must branch on
// the returned bool instead of assuming success.
type Sessions interface {
	// Create inserts a new record. The caller supplies ID, digests
	// (current = previous on creation), seen=false and all timestamps.
	Create(ctx context.Context, s domain.Session) error

	// GetByID returns a session by id.
	GetByID(ctx context.Context, id string) (domain.Session, error)

	// GetByDigest resolves a presented token digest against either the
	// current or the previous digest, restricted to records rotated after
	// the given cutoff (the maximum session age boundary).
	GetByDigest(ctx context.Context, digest string, rotatedAfter time.Time) (domain.Session, error)

	// ListByPrincipal returns a principal's sessions, newest rotation first.
	ListByPrincipal(ctx context.Context, principalID string) ([]domain.Session, error)

	// TryRotate atomically installs newDigest as the current digest iff the
	// record has been seen, or its last rotation is older than the safeguard
	// window (recovering tokens that never reached the client). On success
	// the old current digest moves to previous_digest only if it was seen;
	// seen/seen_at reset, rotated_at=now and client metadata refreshes.
	TryRotate(ctx context.Context, id, newDigest string, meta domain.ClientMeta, now time.Time, safeguard time.Duration) (bool, error)

	// TryMarkSeen atomically sets seen=true, seen_at=now iff the record's
	// current digest still equals digest and seen was false.
	TryMarkSeen(ctx context.Context, id, digest string, now time.Time) (bool, error)

	// TryInvalidatePrevious atomically clears seen/seen_at iff the record's
	// previous digest equals digest and the record rotated before the given
	// time. Used to re-arm one acceptance window when a stale previous
	// token shows up after the current one was already seen.
	TryInvalidatePrevious(ctx context.Context, id, digest string, rotatedBefore time.Time) (bool, error)

	// Delete removes a single session (explicit logout/revocation).
	Delete(ctx context.Context, id string) error

	// DeleteByPrincipal removes all of a principal's sessions and reports
	// how many were removed.
	DeleteByPrincipal(ctx context.Context, principalID string) (int64, error)

	// DeleteExpired removes every session rotated before the cutoff and
	// reports how many were removed. It runs concurrently with live
	// traffic; the predicate is the only ownership it assumes.
	DeleteExpired(ctx context.Context, rotatedBefore time.Time) (int64, error)
}

// AuditEvents is the append-mostly session audit trail.
type AuditEvents interface {
	// Insert appends one event.
	Insert(ctx context.Context, ev domain.AuditEvent) error

	// DistinctClientIPs returns the distinct client IPs seen in generate
	// events for a principal, excluding excludeIP. This feeds the
	// suspicious-login heuristic.
	DistinctClientIPs(ctx context.Context, principalID, excludeIP string) ([]string, error)

	// DeleteOlderThan purges events created before the cutoff.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
