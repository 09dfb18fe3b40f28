package service

import "time"

// Settings holds the tunable rotation policy. Values are read through a
// SettingsFunc at the moment of use so deployments can adjust policy without
// restarting in-flight services.
type Settings struct {
	// RotationInterval is how long a seen token stays current before the
	// request layer should rotate it.
	RotationInterval time.Duration

	// UrgentRotationInterval applies to tokens that were never confirmed
	// delivered: unseen tokens rotate sooner to recover from delivery
	// failures.
	UrgentRotationInterval time.Duration

	// MaxSessionAge bounds how long after its last rotation a record still
	// resolves at all.
	MaxSessionAge time.Duration

	// SafeguardWindow is the minimum time since the last rotation before an
	// unseen token may rotate again. It absorbs bursts of near-simultaneous
	// rotation attempts.
	SafeguardWindow time.Duration

	// PreviousTokenGrace is how long after a rotation a stale previous
	// token may still re-arm one acceptance window instead of being treated
	// as a hard replay.
	PreviousTokenGrace time.Duration

	// VerboseAudit additionally records verify-path events (token misses,
	// seen markings and their conflicts). Mutations and security events are
	// always recorded.
	VerboseAudit bool

	// AuditRetention is how long audit events are kept before the
	// housekeeping sweep purges them.
	AuditRetention time.Duration
}

// SettingsFunc supplies the current policy.
type SettingsFunc func() Settings

// DefaultSettings mirrors the source policy constants.
func DefaultSettings() Settings {
	return Settings{
		RotationInterval:       10 * time.Minute,
		UrgentRotationInterval: time.Minute,
		MaxSessionAge:          1440 * time.Hour,
		SafeguardWindow:        30 * time.Second,
		PreviousTokenGrace:     time.Minute,
		VerboseAudit:           false,
		AuditRetention:         2160 * time.Hour,
	}
}

// StaticSettings wraps fixed settings in a SettingsFunc.
func StaticSettings(s Settings) SettingsFunc {
	return func() Settings { return s }
}
