// Package metrics exposes Prometheus counters for the session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnstile",
		Name:      "sessions_issued_total",
		Help:      "Sessions created through initial issuance.",
	})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turnstile",
		Name:      "verifications_total",
		Help:      "Token verification attempts by result.",
	}, []string{"result"})

	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "turnstile",
		Name:      "rotations_total",
		Help:      "Rotation attempts by outcome.",
	}, []string{"outcome"})

	SuspiciousLogins = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnstile",
		Name:      "suspicious_logins_total",
		Help:      "Logins flagged by the region heuristic.",
	})

	SweptSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "turnstile",
		Name:      "swept_sessions_total",
		Help:      "Expired sessions removed by the housekeeping sweep.",
	})
)

// Verification result and rotation outcome label values.
const (
	ResultOK            = "ok"
	ResultMiss          = "miss"
	ResultReplaySuspect = "replay_suspect"

	OutcomeRotated = "rotated"
	OutcomeSkipped = "skipped"
)
