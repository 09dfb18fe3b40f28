package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
)

type sessionsRepo struct {
	db *sql.DB
}

const sessionColumns = `id, principal_id, current_digest, previous_digest,
	seen, seen_at, rotated_at, user_agent, client_ip, created_at, updated_at`

func (r *sessionsRepo) Create(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.PrincipalID, s.CurrentDigest, s.PreviousDigest,
		boolToInt(s.Seen), toNullMillis(s.SeenAt), toMillis(s.RotatedAt),
		s.UserAgent, s.ClientIP, toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *sessionsRepo) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

func (r *sessionsRepo) GetByDigest(
	ctx context.Context,
	digest string,
	rotatedAfter time.Time,
) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE (current_digest = ? OR previous_digest = ?) AND rotated_at > ?
	`, digest, digest, toMillis(rotatedAfter))
	return scanSession(row)
}

func (r *sessionsRepo) ListByPrincipal(
	ctx context.Context,
	principalID string,
) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE principal_id = ?
		ORDER BY rotated_at DESC
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TryRotate is the rotation transition as one conditional UPDATE. The WHERE
// clause is the entire admission rule: a record may rotate once the client
// has confirmed the current token (seen) or once the safeguard window has
// passed since the last rotation. Exactly one of N racing callers can match.
func (r *sessionsRepo) TryRotate(
	ctx context.Context,
	id, newDigest string,
	meta domain.ClientMeta,
	now time.Time,
	safeguard time.Duration,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			previous_digest = CASE WHEN seen = 1 THEN current_digest ELSE previous_digest END,
			current_digest  = ?,
			seen            = 0,
			seen_at         = NULL,
			rotated_at      = ?,
			user_agent      = ?,
			client_ip       = ?,
			updated_at      = ?
		WHERE id = ? AND (seen = 1 OR rotated_at < ?)
	`,
		newDigest, toMillis(now), meta.UserAgent, meta.ClientIP, toMillis(now),
		id, toMillis(now.Add(-safeguard)),
	)
	if err != nil {
		return false, err
	}
	return oneRowChanged(res)
}

func (r *sessionsRepo) TryMarkSeen(
	ctx context.Context,
	id, digest string,
	now time.Time,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET seen = 1, seen_at = ?, updated_at = ?
		WHERE id = ? AND current_digest = ? AND seen = 0
	`, toMillis(now), toMillis(now), id, digest)
	if err != nil {
		return false, err
	}
	return oneRowChanged(res)
}

func (r *sessionsRepo) TryInvalidatePrevious(
	ctx context.Context,
	id, digest string,
	rotatedBefore time.Time,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET seen = 0, seen_at = NULL
		WHERE id = ? AND previous_digest = ? AND rotated_at < ?
	`, id, digest, toMillis(rotatedBefore))
	if err != nil {
		return false, err
	}
	return oneRowChanged(res)
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeleteByPrincipal(
	ctx context.Context,
	principalID string,
) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE principal_id = ?
	`, principalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *sessionsRepo) DeleteExpired(
	ctx context.Context,
	rotatedBefore time.Time,
) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE rotated_at < ?
	`, toMillis(rotatedBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s         domain.Session
		seen      int64
		seenAt    sql.NullInt64
		rotatedAt int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&s.ID, &s.PrincipalID, &s.CurrentDigest, &s.PreviousDigest,
		&seen, &seenAt, &rotatedAt, &s.UserAgent, &s.ClientIP,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	s.Seen = seen != 0
	s.SeenAt = fromNullMillis(seenAt)
	s.RotatedAt = fromMillis(rotatedAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}

func oneRowChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
