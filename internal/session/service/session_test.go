package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
	"github.com/aussiebroadwan/turnstile/internal/session/store/drivers/sqlite"
	"github.com/aussiebroadwan/turnstile/pkg/cryptox"

	"github.com/stretchr/testify/require"
)

func newTestCodec() (*cryptox.Codec, error) {
	return cryptox.NewCodec("test-secret")
}

// fakeClock lets tests move a session's record relative to the safeguard,
// grace and expiry windows without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureNotifier struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (n *captureNotifier) Enqueue(_ context.Context, notif domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, notif)
}

func (n *captureNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.got...)
}

func testSettings() Settings {
	s := DefaultSettings()
	s.VerboseAudit = true
	return s
}

func newTestService(t *testing.T, settings Settings) (*SessionService, *fakeClock) {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	codec, err := newTestCodec()
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	clock := newFakeClock()

	svc := &SessionService{
		Store:    st,
		Codec:    codec,
		Audit:    &StoreAuditLog{Events: st.AuditEvents(), Logger: logger},
		Settings: StaticSettings(settings),
		Logger:   logger,
		Now:      clock.Now,
	}
	return svc, clock
}

func TestIssueAndMarkSeen(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testSettings())
	ctx := context.Background()
	principal := domain.Principal{ID: "user-1"}
	meta := domain.ClientMeta{UserAgent: "firefox", ClientIP: "192.0.2.1"}

	issued, err := svc.Issue(ctx, principal, meta)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.Equal(t, issued.Session.CurrentDigest, issued.Session.PreviousDigest)
	require.False(t, issued.Session.Seen)

	got, err := svc.Verify(ctx, issued.Token, VerifyOptions{MarkSeen: true, Meta: meta})
	require.NoError(t, err)
	require.Equal(t, issued.Session.ID, got.ID)
	require.True(t, got.Seen)
	require.NotNil(t, got.SeenAt)

	// Verifying again is fine; the record is already seen.
	got, err = svc.Verify(ctx, issued.Token, VerifyOptions{MarkSeen: true, Meta: meta})
	require.NoError(t, err)
	require.True(t, got.Seen)
}

func TestVerifyUnknownToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testSettings())

	_, err := svc.Verify(context.Background(), "no-such-token", VerifyOptions{})
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestVerifyExpiredSession(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	svc, clock := newTestService(t, settings)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, domain.Principal{ID: "u"}, domain.ClientMeta{})
	require.NoError(t, err)

	clock.Advance(settings.MaxSessionAge + time.Minute)
	_, err = svc.Verify(ctx, issued.Token, VerifyOptions{})
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRotationLifecycle(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	svc, clock := newTestService(t, settings)
	ctx := context.Background()
	meta := domain.ClientMeta{UserAgent: "firefox", ClientIP: "192.0.2.1"}

	issued, err := svc.Issue(ctx, domain.Principal{ID: "u"}, meta)
	require.NoError(t, err)
	token1 := issued.Token

	sess, err := svc.Verify(ctx, token1, VerifyOptions{MarkSeen: true, Meta: meta})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	token2, rotated, err := svc.Rotate(ctx, &sess, meta)
	require.NoError(t, err)
	require.True(t, rotated)
	require.NotEqual(t, token1, token2)
	require.False(t, sess.Seen)

	// The old token is now previous and unseen: it still verifies while the
	// new one is in flight.
	got, err := svc.Verify(ctx, token1, VerifyOptions{Meta: meta})
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)

	// The new token verifies and gets marked seen.
	got, err = svc.Verify(ctx, token2, VerifyOptions{MarkSeen: true, Meta: meta})
	require.NoError(t, err)
	require.True(t, got.Seen)

	// With the new token confirmed, the old token is the replay signature.
	// The rotation is too recent for re-arming, so it is denied outright.
	_, err = svc.Verify(ctx, token1, VerifyOptions{Meta: meta})
	require.ErrorIs(t, err, ErrNotAuthenticated)

	// A record still seen: the denial did not disturb the current token.
	got, err = svc.Verify(ctx, token2, VerifyOptions{Meta: meta})
	require.NoError(t, err)
	require.True(t, got.Seen)
}

func TestReplayRearmsAfterGrace(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	svc, clock := newTestService(t, settings)
	ctx := context.Background()
	meta := domain.ClientMeta{ClientIP: "192.0.2.1"}

	issued, err := svc.Issue(ctx, domain.Principal{ID: "u"}, meta)
	require.NoError(t, err)
	token1 := issued.Token

	sess, err := svc.Verify(ctx, token1, VerifyOptions{MarkSeen: true, Meta: meta})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	token2, rotated, err := svc.Rotate(ctx, &sess, meta)
	require.NoError(t, err)
	require.True(t, rotated)

	_, err = svc.Verify(ctx, token2, VerifyOptions{MarkSeen: true, Meta: meta})
	require.NoError(t, err)

	// Past the grace window, the stale token is still rejected but re-arms
	// one acceptance window by clearing seen on the current token.
	clock.Advance(settings.PreviousTokenGrace + time.Second)
	_, err = svc.Verify(ctx, token1, VerifyOptions{Meta: meta})
	require.ErrorIs(t, err, ErrNotAuthenticated)

	got, err := svc.Verify(ctx, token2, VerifyOptions{Meta: meta})
	require.NoError(t, err)
	require.False(t, got.Seen, "re-arm must clear seen on the current token")

	// The re-armed window accepts the previous token once more.
	got, err = svc.Verify(ctx, token1, VerifyOptions{Meta: meta})
	require.NoError(t, err)
	require.Equal(t, sess.ID, got.ID)
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	svc, clock := newTestService(t, settings)
	ctx := context.Background()
	meta := domain.ClientMeta{ClientIP: "192.0.2.1"}

	issued, err := svc.Issue(ctx, domain.Principal{ID: "u"}, meta)
	require.NoError(t, err)

	// Move past the safeguard window so the unseen record is eligible; the
	// N attempts then race within a single window and exactly one may win.
	clock.Advance(settings.SafeguardWindow + time.Second)

	const attempts = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := issued.Session
			_, rotated, err := svc.Rotate(ctx, &local, meta)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if rotated {
				winners++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, winners, "exactly one concurrent rotation must win")

	got, err := svc.Store.Sessions().GetByID(ctx, issued.Session.ID)
	require.NoError(t, err)
	require.NotEqual(t, issued.Session.CurrentDigest, got.CurrentDigest)
	// Unseen at rotation time: the undelivered token is not trusted as
	// previous.
	require.Equal(t, issued.Session.CurrentDigest, got.PreviousDigest)
}

func TestRotateWithinSafeguardIsNoop(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testSettings())
	ctx := context.Background()
	meta := domain.ClientMeta{}

	issued, err := svc.Issue(ctx, domain.Principal{ID: "u"}, meta)
	require.NoError(t, err)

	sess := issued.Session
	token, rotated, err := svc.Rotate(ctx, &sess, meta)
	require.NoError(t, err)
	require.False(t, rotated)
	require.Empty(t, token)
	require.Equal(t, issued.Session.CurrentDigest, sess.CurrentDigest)
}

func TestShouldRotate(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	svc, clock := newTestService(t, settings)
	now := clock.Now()

	seen := domain.Session{Seen: true, RotatedAt: now.Add(-settings.RotationInterval / 2)}
	require.False(t, svc.ShouldRotate(seen, now), "seen and fresh")

	seen.RotatedAt = now.Add(-settings.RotationInterval - time.Second)
	require.True(t, svc.ShouldRotate(seen, now), "seen but past the rotation interval")

	unseen := domain.Session{Seen: false, RotatedAt: now.Add(-30 * time.Second)}
	require.False(t, svc.ShouldRotate(unseen, now), "unseen and inside the urgent interval")

	unseen.RotatedAt = now.Add(-settings.UrgentRotationInterval - time.Second)
	require.True(t, svc.ShouldRotate(unseen, now), "unseen past the urgent interval")
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testSettings())
	ctx := context.Background()

	issued, err := svc.Issue(ctx, domain.Principal{ID: "u"}, domain.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, issued.Session.ID))
	_, err = svc.Verify(ctx, issued.Token, VerifyOptions{})
	require.ErrorIs(t, err, ErrNotAuthenticated)

	require.ErrorIs(t, svc.Revoke(ctx, issued.Session.ID), store.ErrNotFound)
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testSettings())
	ctx := context.Background()

	first, err := svc.Issue(ctx, domain.Principal{ID: "u"}, domain.ClientMeta{})
	require.NoError(t, err)
	second, err := svc.Issue(ctx, domain.Principal{ID: "u"}, domain.ClientMeta{})
	require.NoError(t, err)

	n, err := svc.RevokeAll(ctx, "u")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, token := range []string{first.Token, second.Token} {
		_, err = svc.Verify(ctx, token, VerifyOptions{})
		require.ErrorIs(t, err, ErrNotAuthenticated)
	}
}
