package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type auditEventsRepo struct {
	pool *pgxpool.Pool
}

func (r *auditEventsRepo) Insert(ctx context.Context, ev domain.AuditEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_audit_events
			(id, action, session_id, principal_id, digest, user_agent, client_ip, path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ev.ID, string(ev.Action), ev.SessionID, ev.PrincipalID, ev.Digest,
		ev.UserAgent, ev.ClientIP, ev.Path, toMillis(ev.CreatedAt),
	)
	return err
}

func (r *auditEventsRepo) DistinctClientIPs(
	ctx context.Context,
	principalID, excludeIP string,
) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT client_ip FROM session_audit_events
		WHERE principal_id = $1 AND action = $2 AND client_ip != '' AND client_ip != $3
	`, principalID, string(domain.AuditGenerate), excludeIP)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

func (r *auditEventsRepo) DeleteOlderThan(
	ctx context.Context,
	before time.Time,
) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM session_audit_events WHERE created_at < $1
	`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
