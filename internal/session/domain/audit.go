package domain

import "time"

// AuditAction classifies session audit-trail entries.
type AuditAction string

const (
	// AuditGenerate records initial token issuance.
	AuditGenerate AuditAction = "generate"
	// AuditRotate records a successful rotation.
	AuditRotate AuditAction = "rotate"
	// AuditRotateSkipped records a rotation attempt that lost the
	// conditional update (an expected no-op, not an error).
	AuditRotateSkipped AuditAction = "rotate_skipped"
	// AuditSeen records the first acknowledged presentation of the current
	// token after issuance or rotation.
	AuditSeen AuditAction = "seen"
	// AuditSeenConflict records a mark-seen attempt that lost the race
	// against a concurrent rotation or mark-seen.
	AuditSeenConflict AuditAction = "seen_conflict"
	// AuditTokenMiss records a presented token that matched no live record.
	AuditTokenMiss AuditAction = "token_miss"
	// AuditPreviousRearmed records a stale previous-token presentation that
	// was granted one more acceptance window (seen cleared on the current
	// token).
	AuditPreviousRearmed AuditAction = "previous_rearmed"
	// AuditReplaySuspected records a previous-token presentation that was
	// denied outright: the record was too fresh to re-arm, which is the
	// stolen-cookie replay signature.
	AuditReplaySuspected AuditAction = "replay_suspected"
	// AuditDestroy records explicit revocation of a single session.
	AuditDestroy AuditAction = "destroy"
	// AuditDestroyAll records bulk revocation of a principal's sessions.
	AuditDestroyAll AuditAction = "destroy_all"
)

// AuditEvent is a single append-only audit-trail entry. Digest identifies
// the token involved without exposing its raw value.
type AuditEvent struct {
	ID          string
	Action      AuditAction
	SessionID   string
	PrincipalID string
	Digest      string
	UserAgent   string
	ClientIP    string
	Path        string
	CreatedAt   time.Time
}

// NotificationSuspiciousLogin is the kind enqueued when an elevated
// principal logs in from an unrecognised region.
const NotificationSuspiciousLogin = "suspicious_login"

// Notification is a best-effort asynchronous message for out-of-band
// delivery (mail, chat, pager). Failure to deliver never fails a login.
type Notification struct {
	Kind        string
	PrincipalID string
	ClientIP    string
	UserAgent   string
}
