package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type sessionsRepo struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, principal_id, current_digest, previous_digest,
	seen, seen_at, rotated_at, user_agent, client_ip, created_at, updated_at`

func (r *sessionsRepo) Create(ctx context.Context, s domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		s.ID, s.PrincipalID, s.CurrentDigest, s.PreviousDigest,
		s.Seen, toNullMillis(s.SeenAt), toMillis(s.RotatedAt),
		s.UserAgent, s.ClientIP, toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
	)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *sessionsRepo) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *sessionsRepo) GetByDigest(
	ctx context.Context,
	digest string,
	rotatedAfter time.Time,
) (domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE (current_digest = $1 OR previous_digest = $1) AND rotated_at > $2
	`, digest, toMillis(rotatedAfter))
	return scanSession(row)
}

func (r *sessionsRepo) ListByPrincipal(
	ctx context.Context,
	principalID string,
) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE principal_id = $1
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

// TryRotate is the same conditional UPDATE as the sqlite driver; only the
// placeholder syntax differs.
func (r *sessionsRepo) TryRotate(
	ctx context.Context,
	id, newDigest string,
	meta domain.ClientMeta,
	now time.Time,
	safeguard time.Duration,
) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET
			previous_digest = CASE WHEN seen THEN current_digest ELSE previous_digest END,
			current_digest  = $1,
			seen            = FALSE,
			seen_at         = NULL,
			rotated_at      = $2,
			user_agent      = $3,
			client_ip       = $4,
			updated_at      = $2
		WHERE id = $5 AND (seen OR rotated_at < $6)
	`, newDigest, toMillis(now), meta.UserAgent, meta.ClientIP, id, toMillis(now.Add(-safeguard)))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *sessionsRepo) TryMarkSeen(
	ctx context.Context,
	id, digest string,
	now time.Time,
) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET seen = TRUE, seen_at = $1, updated_at = $1
		WHERE id = $2 AND current_digest = $3 AND NOT seen
	`, toMillis(now), id, digest)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *sessionsRepo) TryInvalidatePrevious(
	ctx context.Context,
	id, digest string,
	rotatedBefore time.Time,
) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE sessions SET seen = FALSE, seen_at = NULL
		WHERE id = $1 AND previous_digest = $2 AND rotated_at < $3
	`, id, digest, toMillis(rotatedBefore))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (r *sessionsRepo) DeleteByPrincipal(
	ctx context.Context,
	principalID string,
) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE principal_id = $1
	`, principalID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *sessionsRepo) DeleteExpired(
	ctx context.Context,
	rotatedBefore time.Time,
) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM sessions WHERE rotated_at < $1
	`, toMillis(rotatedBefore))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s         domain.Session
		seenAt    *int64
		rotatedAt int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&s.ID, &s.PrincipalID, &s.CurrentDigest, &s.PreviousDigest,
		&s.Seen, &seenAt, &rotatedAt, &s.UserAgent, &s.ClientIP,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Session{}, mapError(err)
	}

	s.SeenAt = fromNullMillis(seenAt)
	s.RotatedAt = fromMillis(rotatedAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}
