package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
)

type auditEventsRepo struct {
	db *sql.DB
}

func (r *auditEventsRepo) Insert(ctx context.Context, ev domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_audit_events
			(id, action, session_id, principal_id, digest, user_agent, client_ip, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT client_ip FROM session_audit_events
		WHERE principal_id = ? AND action = ? AND client_ip != '' AND client_ip != ?
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
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM session_audit_events WHERE created_at < ?
	`, toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
