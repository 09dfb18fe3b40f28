package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/metrics"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
	"github.com/aussiebroadwan/turnstile/pkg/cryptox"
	"github.com/aussiebroadwan/turnstile/pkg/idx"
)

// ErrNotAuthenticated is returned for any token that must not be accepted:
// unknown, expired, or suspected of replay. Callers treat all three the
// same; the audit trail keeps the distinction.
var ErrNotAuthenticated = errors.New("service: not authenticated")

// SessionService owns the session-token lifecycle: issuance, verification,
// rotation and revocation. Every state transition goes through the store's
// conditional writes, so the service never takes a lock and never performs
// a read-modify-write on a record.
type SessionService struct {
	Store     store.Store
	Codec     *cryptox.Codec
	Audit     AuditLog
	Notifier  Notifier
	Suspicion *SuspicionService
	Settings  SettingsFunc
	Logger    *slog.Logger

	// Now is the clock; nil means time.Now. Injected so tests can backdate
	// records relative to the safeguard and grace windows.
	Now func() time.Time
}

// VerifyOptions carries the request context of a verification.
type VerifyOptions struct {
	// MarkSeen acknowledges delivery of the current token on success.
	MarkSeen bool
	Path     string
	Meta     domain.ClientMeta
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Issue creates a session for an authenticated principal and returns the
// raw token exactly once. Elevated principals additionally run the
// suspicious-login check against their issuance history.
func (s *SessionService) Issue(
	ctx context.Context,
	principal domain.Principal,
	meta domain.ClientMeta,
) (domain.Issued, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.Issued{}, err
	}

	now := s.now()
	digest := s.Codec.Digest(token)
	sess := domain.Session{
		ID:             idx.New().String(),
		PrincipalID:    principal.ID,
		CurrentDigest:  digest,
		PreviousDigest: digest,
		RotatedAt:      now,
		UserAgent:      meta.UserAgent,
		ClientIP:       meta.ClientIP,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.Store.Sessions().Create(ctx, sess); err != nil {
		return domain.Issued{}, err
	}
	metrics.SessionsIssued.Inc()

	s.record(ctx, domain.AuditEvent{
		Action:      domain.AuditGenerate,
		SessionID:   sess.ID,
		PrincipalID: principal.ID,
		Digest:      digest,
		UserAgent:   meta.UserAgent,
		ClientIP:    meta.ClientIP,
		CreatedAt:   now,
	})

	if principal.Elevated && s.Suspicion != nil && s.Notifier != nil {
		if s.Suspicion.IsSuspicious(ctx, principal.ID, meta.ClientIP) {
			metrics.SuspiciousLogins.Inc()
			s.Notifier.Enqueue(ctx, domain.Notification{
				Kind:        domain.NotificationSuspiciousLogin,
				PrincipalID: principal.ID,
				ClientIP:    meta.ClientIP,
				UserAgent:   meta.UserAgent,
			})
		}
	}

	return domain.Issued{Session: sess, Token: token}, nil
}

// Verify resolves a raw token to its session, or ErrNotAuthenticated.
//
// A token matching the previous digest while the current token has already
// been seen is the stolen-cookie replay signature: the legitimate client has
// moved on, so nothing should still be holding the old value. Mitigation is
// one-step grace rather than hard invalidation: TryInvalidatePrevious
// clears seen on the current token, granting one more acceptance window for
// slow or duplicated legitimate requests. Either way the presented token is
// rejected.
func (s *SessionService) Verify(
	ctx context.Context,
	raw string,
	opts VerifyOptions,
) (domain.Session, error) {
	settings := s.Settings()
	now := s.now()
	digest := s.Codec.Digest(raw)

	sess, err := s.Store.Sessions().GetByDigest(ctx, digest, now.Add(-settings.MaxSessionAge))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, err
		}

		metrics.Verifications.WithLabelValues(metrics.ResultMiss).Inc()
		if settings.VerboseAudit {
			s.record(ctx, domain.AuditEvent{
				Action:    domain.AuditTokenMiss,
				Digest:    digest,
				UserAgent: opts.Meta.UserAgent,
				ClientIP:  opts.Meta.ClientIP,
				Path:      opts.Path,
				CreatedAt: now,
			})
		}
		return domain.Session{}, ErrNotAuthenticated
	}

	if digest == sess.PreviousDigest && digest != sess.CurrentDigest && sess.Seen {
		rearmed, err := s.Store.Sessions().TryInvalidatePrevious(
			ctx, sess.ID, digest, now.Add(-settings.PreviousTokenGrace))
		if err != nil {
			return domain.Session{}, err
		}

		action := domain.AuditReplaySuspected
		if rearmed {
			action = domain.AuditPreviousRearmed
		}
		metrics.Verifications.WithLabelValues(metrics.ResultReplaySuspect).Inc()
		s.record(ctx, domain.AuditEvent{
			Action:      action,
			SessionID:   sess.ID,
			PrincipalID: sess.PrincipalID,
			Digest:      digest,
			UserAgent:   opts.Meta.UserAgent,
			ClientIP:    opts.Meta.ClientIP,
			Path:        opts.Path,
			CreatedAt:   now,
		})
		return domain.Session{}, ErrNotAuthenticated
	}

	if opts.MarkSeen && digest == sess.CurrentDigest && !sess.Seen {
		marked, err := s.Store.Sessions().TryMarkSeen(ctx, sess.ID, digest, now)
		if err != nil {
			return domain.Session{}, err
		}

		if marked {
			// Mirror the conditional update in memory. Re-reading could pick
			// up a concurrently-rotated value.
			seenAt := now
			sess.Seen = true
			sess.SeenAt = &seenAt
			sess.UpdatedAt = now
		}

		if settings.VerboseAudit {
			action := domain.AuditSeen
			if !marked {
				action = domain.AuditSeenConflict
			}
			s.record(ctx, domain.AuditEvent{
				Action:      action,
				SessionID:   sess.ID,
				PrincipalID: sess.PrincipalID,
				Digest:      digest,
				UserAgent:   opts.Meta.UserAgent,
				ClientIP:    opts.Meta.ClientIP,
				Path:        opts.Path,
				CreatedAt:   now,
			})
		}
	}

	metrics.Verifications.WithLabelValues(metrics.ResultOK).Inc()
	return sess, nil
}

// ShouldRotate is the rotation policy: rotate once the token is older than
// the rotation interval, or sooner when it was never confirmed delivered.
func (s *SessionService) ShouldRotate(sess domain.Session, now time.Time) bool {
	settings := s.Settings()
	age := now.Sub(sess.RotatedAt)
	if age > settings.RotationInterval {
		return true
	}
	return !sess.Seen && age > settings.UrgentRotationInterval
}

// Rotate replaces the current token. Losing the conditional update is an
// expected no-op (rotated=false): another request already rotated, or the
// unseen token is still inside the safeguard window. On success sess is
// updated in memory to mirror the store transition and the new raw token is
// returned exactly once.
func (s *SessionService) Rotate(
	ctx context.Context,
	sess *domain.Session,
	meta domain.ClientMeta,
) (string, bool, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", false, err
	}

	settings := s.Settings()
	now := s.now()
	digest := s.Codec.Digest(token)

	rotated, err := s.Store.Sessions().TryRotate(
		ctx, sess.ID, digest, meta, now, settings.SafeguardWindow)
	if err != nil {
		return "", false, err
	}

	if !rotated {
		metrics.Rotations.WithLabelValues(metrics.OutcomeSkipped).Inc()
		s.record(ctx, domain.AuditEvent{
			Action:      domain.AuditRotateSkipped,
			SessionID:   sess.ID,
			PrincipalID: sess.PrincipalID,
			UserAgent:   meta.UserAgent,
			ClientIP:    meta.ClientIP,
			CreatedAt:   now,
		})
		return "", false, nil
	}

	if sess.Seen {
		sess.PreviousDigest = sess.CurrentDigest
	}
	sess.CurrentDigest = digest
	sess.Seen = false
	sess.SeenAt = nil
	sess.RotatedAt = now
	sess.UserAgent = meta.UserAgent
	sess.ClientIP = meta.ClientIP
	sess.UpdatedAt = now

	metrics.Rotations.WithLabelValues(metrics.OutcomeRotated).Inc()
	s.record(ctx, domain.AuditEvent{
		Action:      domain.AuditRotate,
		SessionID:   sess.ID,
		PrincipalID: sess.PrincipalID,
		Digest:      digest,
		UserAgent:   meta.UserAgent,
		ClientIP:    meta.ClientIP,
		CreatedAt:   now,
	})
	return token, true, nil
}

// ListSessions returns a principal's sessions, newest rotation first.
func (s *SessionService) ListSessions(
	ctx context.Context,
	principalID string,
) ([]domain.Session, error) {
	return s.Store.Sessions().ListByPrincipal(ctx, principalID)
}

// Revoke destroys a single session (explicit logout).
func (s *SessionService) Revoke(ctx context.Context, id string) error {
	sess, err := s.Store.Sessions().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.Store.Sessions().Delete(ctx, id); err != nil {
		return err
	}

	s.record(ctx, domain.AuditEvent{
		Action:      domain.AuditDestroy,
		SessionID:   sess.ID,
		PrincipalID: sess.PrincipalID,
		CreatedAt:   s.now(),
	})
	return nil
}

// RevokeAll destroys every session a principal holds.
func (s *SessionService) RevokeAll(ctx context.Context, principalID string) (int64, error) {
	n, err := s.Store.Sessions().DeleteByPrincipal(ctx, principalID)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.record(ctx, domain.AuditEvent{
			Action:      domain.AuditDestroyAll,
			PrincipalID: principalID,
			CreatedAt:   s.now(),
		})
	}
	return n, nil
}

func (s *SessionService) record(ctx context.Context, ev domain.AuditEvent) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(ctx, ev)
}
