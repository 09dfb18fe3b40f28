package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
	"github.com/aussiebroadwan/turnstile/pkg/idx"
)

// AuditLog records session lifecycle events. Recording is fire-and-forget:
// an audit failure must never fail the operation being audited.
type AuditLog interface {
	Record(ctx context.Context, ev domain.AuditEvent)

	// DistinctClientIPs feeds the suspicious-login heuristic with the
	// distinct IPs seen in a principal's issuance history.
	DistinctClientIPs(ctx context.Context, principalID, excludeIP string) ([]string, error)
}

// Notifier enqueues best-effort out-of-band notifications.
type Notifier interface {
	Enqueue(ctx context.Context, n domain.Notification)
}

// StoreAuditLog persists events through the store's audit repository,
// logging (never propagating) insert failures.
type StoreAuditLog struct {
	Events store.AuditEvents
	Logger *slog.Logger
}

func (l *StoreAuditLog) Record(ctx context.Context, ev domain.AuditEvent) {
	if ev.ID == "" {
		ev.ID = idx.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if err := l.Events.Insert(ctx, ev); err != nil {
		l.Logger.Error("failed to record audit event",
			"action", ev.Action,
			"principal_id", ev.PrincipalID,
			"error", err,
		)
	}
}

func (l *StoreAuditLog) DistinctClientIPs(
	ctx context.Context,
	principalID, excludeIP string,
) ([]string, error) {
	return l.Events.DistinctClientIPs(ctx, principalID, excludeIP)
}
