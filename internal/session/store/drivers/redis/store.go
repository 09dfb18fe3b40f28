// Package redis implements the session store on Redis. Every conditional
// transition runs as a Lua script so the check and the mutation are a single
// atomic server-side step, mirroring the SQL drivers' conditional UPDATEs.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/store"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore wraps an existing Redis client. prefix namespaces every key so
// multiple deployments can share one Redis instance.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "turnstile"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error { return s.client.Close() }

// ApplyMigrations is a no-op: Redis has no schema to migrate.
func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Sessions() store.Sessions {
	return &sessionsRepo{client: s.client, prefix: s.prefix}
}

func (s *Store) AuditEvents() store.AuditEvents {
	return &auditEventsRepo{client: s.client, prefix: s.prefix}
}

// Key layout. All times are unix milliseconds so window comparisons match
// the SQL drivers exactly.
//
//	<prefix>:sess:<id>        hash    the session record
//	<prefix>:digest:<digest>  string  digest -> session id index
//	<prefix>:principal:<pid>  set     session ids owned by a principal
//	<prefix>:by_rotated       zset    session id scored by rotated_at
//	<prefix>:audit:<pid>      zset    audit events scored by created_at
//	<prefix>:audit_pids       set     principals with audit history
func sessKey(prefix, id string) string        { return prefix + ":sess:" + id }
func digestPrefix(prefix string) string       { return prefix + ":digest:" }
func principalPrefix(prefix string) string    { return prefix + ":principal:" }
func rotatedKey(prefix string) string         { return prefix + ":by_rotated" }
func auditKey(prefix, pid string) string      { return prefix + ":audit:" + pid }
func auditPrincipalsKey(prefix string) string { return prefix + ":audit_pids" }

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
