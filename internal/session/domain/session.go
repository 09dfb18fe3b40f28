package domain

import "time"

// Principal identifies the authenticated account a session belongs to.
// Elevated principals get the suspicious-login check on issuance.
type Principal struct {
	ID       string
	Elevated bool
}

// ClientMeta is advisory client information attached to a session. It is
// recorded for audit and display purposes and is never used as an
// authentication factor.
type ClientMeta struct {
	UserAgent string
	ClientIP  string
}

// Session models a stored browser session-token record.
//
// The raw token is never persisted; CurrentDigest and PreviousDigest hold the
// keyed digests of the token the client should present next and of the
// immediately prior one, which stays valid briefly so in-flight requests
// survive a rotation.
type Session struct {
	ID          string
	PrincipalID string

	CurrentDigest  string
	PreviousDigest string

	// Seen flips to true once the client has successfully presented
	// CurrentDigest. Rotation without the safeguard delay requires it.
	Seen   bool
	SeenAt *time.Time

	// RotatedAt is the time of the last rotation, or of creation.
	RotatedAt time.Time

	UserAgent string
	ClientIP  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Issued pairs a freshly created or rotated session with the raw token to
// deliver to the client. The raw value exists only in memory and on the wire.
type Issued struct {
	Session Session
	Token   string
}
