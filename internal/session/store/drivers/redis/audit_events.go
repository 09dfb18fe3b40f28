package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"

	"github.com/redis/go-redis/v9"
)

type auditEventsRepo struct {
	client redis.UniversalClient
	prefix string
}

// auditRecord is the serialized form stored in the per-principal zset,
// scored by created_at so retention purges are a range removal.
type auditRecord struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	SessionID   string `json:"session_id,omitempty"`
	PrincipalID string `json:"principal_id"`
	Digest      string `json:"digest,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	ClientIP    string `json:"client_ip,omitempty"`
	Path        string `json:"path,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func (r *auditEventsRepo) Insert(ctx context.Context, ev domain.AuditEvent) error {
	blob, err := json.Marshal(auditRecord{
		ID:          ev.ID,
		Action:      string(ev.Action),
		SessionID:   ev.SessionID,
		PrincipalID: ev.PrincipalID,
		Digest:      ev.Digest,
		UserAgent:   ev.UserAgent,
		ClientIP:    ev.ClientIP,
		Path:        ev.Path,
		CreatedAt:   ev.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, auditKey(r.prefix, ev.PrincipalID), redis.Z{
			Score:  float64(ev.CreatedAt.UnixMilli()),
			Member: blob,
		})
		pipe.SAdd(ctx, auditPrincipalsKey(r.prefix), ev.PrincipalID)
		return nil
	})
	return err
}

func (r *auditEventsRepo) DistinctClientIPs(
	ctx context.Context,
	principalID, excludeIP string,
) ([]string, error) {
	members, err := r.client.ZRange(ctx, auditKey(r.prefix, principalID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ips []string
	for _, m := range members {
		var rec auditRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		if rec.Action != string(domain.AuditGenerate) {
			continue
		}
		if rec.ClientIP == "" || rec.ClientIP == excludeIP {
			continue
		}
		if _, dup := seen[rec.ClientIP]; dup {
			continue
		}
		seen[rec.ClientIP] = struct{}{}
		ips = append(ips, rec.ClientIP)
	}
	return ips, nil
}

func (r *auditEventsRepo) DeleteOlderThan(
	ctx context.Context,
	before time.Time,
) (int64, error) {
	pids, err := r.client.SMembers(ctx, auditPrincipalsKey(r.prefix)).Result()
	if err != nil {
		return 0, err
	}

	cutoff := "(" + formatMillis(before)
	var removed int64
	for _, pid := range pids {
		key := auditKey(r.prefix, pid)
		n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
		if err != nil {
			return removed, err
		}
		removed += n

		remaining, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return removed, err
		}
		if remaining == 0 {
			if err := r.client.SRem(ctx, auditPrincipalsKey(r.prefix), pid).Err(); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}
