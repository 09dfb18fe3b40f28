package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/geo"
	"github.com/aussiebroadwan/turnstile/internal/session/store/drivers/sqlite"
	"github.com/aussiebroadwan/turnstile/pkg/idx"

	"github.com/stretchr/testify/require"
)

func newSuspicionFixture(t *testing.T, resolver geo.Resolver) (*SuspicionService, *StoreAuditLog) {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	trail := &StoreAuditLog{Events: st.AuditEvents(), Logger: slog.New(slog.DiscardHandler)}
	return &SuspicionService{Trail: trail, Resolver: resolver}, trail
}

func recordGenerate(ctx context.Context, trail *StoreAuditLog, principalID, ip string) {
	trail.Record(ctx, domain.AuditEvent{
		ID:          idx.New().String(),
		Action:      domain.AuditGenerate,
		PrincipalID: principalID,
		ClientIP:    ip,
		CreatedAt:   time.Now().UTC(),
	})
}

func TestSuspicionHeuristic(t *testing.T) {
	t.Parallel()

	resolver := geo.Static{
		"192.0.2.1":   "AU",
		"192.0.2.2":   "AU",
		"203.0.113.5": "DE",
	}
	ctx := context.Background()

	t.Run("no history is never suspicious", func(t *testing.T) {
		svc, _ := newSuspicionFixture(t, resolver)
		require.False(t, svc.IsSuspicious(ctx, "p", "203.0.113.5"))
	})

	t.Run("matching region is not suspicious", func(t *testing.T) {
		svc, trail := newSuspicionFixture(t, resolver)
		recordGenerate(ctx, trail, "p", "192.0.2.1")
		require.False(t, svc.IsSuspicious(ctx, "p", "192.0.2.2"))
	})

	t.Run("disjoint region is suspicious", func(t *testing.T) {
		svc, trail := newSuspicionFixture(t, resolver)
		recordGenerate(ctx, trail, "p", "192.0.2.1")
		recordGenerate(ctx, trail, "p", "192.0.2.2")
		require.True(t, svc.IsSuspicious(ctx, "p", "203.0.113.5"))
	})

	t.Run("unresolvable login ip is not suspicious", func(t *testing.T) {
		svc, trail := newSuspicionFixture(t, resolver)
		recordGenerate(ctx, trail, "p", "192.0.2.1")
		require.False(t, svc.IsSuspicious(ctx, "p", "198.51.100.77"))
	})

	t.Run("repeat login from the same ip is not suspicious", func(t *testing.T) {
		svc, trail := newSuspicionFixture(t, resolver)
		recordGenerate(ctx, trail, "p", "203.0.113.5")
		// The login IP itself is excluded from history; with nothing else
		// recorded there is no basis for comparison.
		require.False(t, svc.IsSuspicious(ctx, "p", "203.0.113.5"))
	})
}

func TestIssueNotifiesOnSuspiciousElevatedLogin(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testSettings())
	ctx := context.Background()

	resolver := geo.Static{
		"192.0.2.1":   "AU",
		"203.0.113.5": "DE",
	}
	notifier := &captureNotifier{}
	svc.Suspicion = &SuspicionService{Trail: svc.Audit, Resolver: resolver}
	svc.Notifier = notifier

	elevated := domain.Principal{ID: "admin-1", Elevated: true}

	// First login: no history, nothing to flag.
	_, err := svc.Issue(ctx, elevated, domain.ClientMeta{ClientIP: "192.0.2.1"})
	require.NoError(t, err)
	require.Empty(t, notifier.all())

	// Second login from a different region: flagged and notified.
	_, err = svc.Issue(ctx, elevated, domain.ClientMeta{ClientIP: "203.0.113.5", UserAgent: "curl"})
	require.NoError(t, err)

	notifications := notifier.all()
	require.Len(t, notifications, 1)
	require.Equal(t, domain.NotificationSuspiciousLogin, notifications[0].Kind)
	require.Equal(t, "admin-1", notifications[0].PrincipalID)
	require.Equal(t, "203.0.113.5", notifications[0].ClientIP)

	// Non-elevated principals never trigger the check.
	plain := domain.Principal{ID: "user-9"}
	_, err = svc.Issue(ctx, plain, domain.ClientMeta{ClientIP: "192.0.2.1"})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, plain, domain.ClientMeta{ClientIP: "203.0.113.5"})
	require.NoError(t, err)
	require.Len(t, notifier.all(), 1)
}
