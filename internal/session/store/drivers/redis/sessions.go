package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/store"

	"github.com/redis/go-redis/v9"
)

// createScript inserts the record only if neither the session key nor the
// digest index is taken, enforcing the same uniqueness the SQL drivers get
// from their UNIQUE constraint.
const createScript = `
local sess_key = KEYS[1]
local principal_key = KEYS[2]
local rotated_key = KEYS[3]
local digest_prefix = ARGV[1]

if redis.call("EXISTS", sess_key) == 1 then
  return 0
end
if redis.call("EXISTS", digest_prefix .. ARGV[4]) == 1 then
  return 0
end

redis.call("HSET", sess_key,
  "id", ARGV[2],
  "principal_id", ARGV[3],
  "current_digest", ARGV[4],
  "previous_digest", ARGV[5],
  "seen", ARGV[6],
  "rotated_at", ARGV[7],
  "user_agent", ARGV[8],
  "client_ip", ARGV[9],
  "created_at", ARGV[10],
  "updated_at", ARGV[11])
if ARGV[12] ~= "" then
  redis.call("HSET", sess_key, "seen_at", ARGV[12])
end

redis.call("SET", digest_prefix .. ARGV[4], ARGV[2])
redis.call("SET", digest_prefix .. ARGV[5], ARGV[2])
redis.call("SADD", principal_key, ARGV[2])
redis.call("ZADD", rotated_key, tonumber(ARGV[7]), ARGV[2])
return 1
`

// tryRotateScript is the rotation admission rule: the record rotates once it
// has been seen, or once its last rotation predates the safeguard cutoff.
// Displaced digests leave the index in the same step.
const tryRotateScript = `
local sess_key = KEYS[1]
local rotated_key = KEYS[2]
local digest_prefix = ARGV[1]
local new_digest = ARGV[2]
local now_ms = ARGV[3]
local cutoff_ms = tonumber(ARGV[4])
local user_agent = ARGV[5]
local client_ip = ARGV[6]

if redis.call("EXISTS", sess_key) == 0 then
  return 0
end

local seen = redis.call("HGET", sess_key, "seen")
local rotated_at = tonumber(redis.call("HGET", sess_key, "rotated_at"))
if seen ~= "1" and rotated_at >= cutoff_ms then
  return 0
end

local id = redis.call("HGET", sess_key, "id")
local old_current = redis.call("HGET", sess_key, "current_digest")
local old_previous = redis.call("HGET", sess_key, "previous_digest")

local new_previous = old_previous
if seen == "1" then
  new_previous = old_current
end

redis.call("HSET", sess_key,
  "current_digest", new_digest,
  "previous_digest", new_previous,
  "seen", "0",
  "rotated_at", now_ms,
  "user_agent", user_agent,
  "client_ip", client_ip,
  "updated_at", now_ms)
redis.call("HDEL", sess_key, "seen_at")

for _, d in ipairs({old_current, old_previous}) do
  if d ~= new_digest and d ~= new_previous then
    redis.call("DEL", digest_prefix .. d)
  end
end
redis.call("SET", digest_prefix .. new_digest, id)
redis.call("ZADD", rotated_key, tonumber(now_ms), id)
return 1
`

const tryMarkSeenScript = `
local sess_key = KEYS[1]
if redis.call("HGET", sess_key, "current_digest") == ARGV[1] and
   redis.call("HGET", sess_key, "seen") == "0" then
  redis.call("HSET", sess_key, "seen", "1", "seen_at", ARGV[2], "updated_at", ARGV[2])
  return 1
end
return 0
`

const tryInvalidatePreviousScript = `
local sess_key = KEYS[1]
local rotated_at = redis.call("HGET", sess_key, "rotated_at")
if rotated_at and
   redis.call("HGET", sess_key, "previous_digest") == ARGV[1] and
   tonumber(rotated_at) < tonumber(ARGV[2]) then
  redis.call("HSET", sess_key, "seen", "0")
  redis.call("HDEL", sess_key, "seen_at")
  return 1
end
return 0
`

// deleteScript removes a record together with its digest index entries and
// membership rows.
const deleteScript = `
local sess_key = KEYS[1]
local rotated_key = KEYS[2]
local digest_prefix = ARGV[1]
local principal_prefix = ARGV[2]

if redis.call("EXISTS", sess_key) == 0 then
  return 0
end

local id = redis.call("HGET", sess_key, "id")
local principal_id = redis.call("HGET", sess_key, "principal_id")
redis.call("DEL", digest_prefix .. redis.call("HGET", sess_key, "current_digest"))
redis.call("DEL", digest_prefix .. redis.call("HGET", sess_key, "previous_digest"))
redis.call("SREM", principal_prefix .. principal_id, id)
redis.call("ZREM", rotated_key, id)
redis.call("DEL", sess_key)
return 1
`

const deleteExpiredScript = `
local rotated_key = KEYS[1]
local sess_prefix = ARGV[1]
local digest_prefix = ARGV[2]
local principal_prefix = ARGV[3]
local cutoff_ms = ARGV[4]

local ids = redis.call("ZRANGEBYSCORE", rotated_key, "-inf", "(" .. cutoff_ms)
for _, id in ipairs(ids) do
  local sess_key = sess_prefix .. id
  if redis.call("EXISTS", sess_key) == 1 then
    local principal_id = redis.call("HGET", sess_key, "principal_id")
    redis.call("DEL", digest_prefix .. redis.call("HGET", sess_key, "current_digest"))
    redis.call("DEL", digest_prefix .. redis.call("HGET", sess_key, "previous_digest"))
    redis.call("SREM", principal_prefix .. principal_id, id)
    redis.call("DEL", sess_key)
  end
  redis.call("ZREM", rotated_key, id)
end
return #ids
`

var (
	createLua                = redis.NewScript(createScript)
	tryRotateLua             = redis.NewScript(tryRotateScript)
	tryMarkSeenLua           = redis.NewScript(tryMarkSeenScript)
	tryInvalidatePreviousLua = redis.NewScript(tryInvalidatePreviousScript)
	deleteLua                = redis.NewScript(deleteScript)
	deleteExpiredLua         = redis.NewScript(deleteExpiredScript)
)

type sessionsRepo struct {
	client redis.UniversalClient
	prefix string
}

func (r *sessionsRepo) Create(ctx context.Context, s domain.Session) error {
	seenAt := ""
	if s.SeenAt != nil {
		seenAt = formatMillis(*s.SeenAt)
	}
	seen := "0"
	if s.Seen {
		seen = "1"
	}

	res, err := createLua.Run(ctx, r.client,
		[]string{
			sessKey(r.prefix, s.ID),
			principalPrefix(r.prefix) + s.PrincipalID,
			rotatedKey(r.prefix),
		},
		digestPrefix(r.prefix),
		s.ID, s.PrincipalID, s.CurrentDigest, s.PreviousDigest, seen,
		formatMillis(s.RotatedAt), s.UserAgent, s.ClientIP,
		formatMillis(s.CreatedAt), formatMillis(s.UpdatedAt), seenAt,
	).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *sessionsRepo) GetByID(ctx context.Context, id string) (domain.Session, error) {
	fields, err := r.client.HGetAll(ctx, sessKey(r.prefix, id)).Result()
	if err != nil {
		return domain.Session{}, err
	}
	if len(fields) == 0 {
		return domain.Session{}, store.ErrNotFound
	}
	return sessionFromHash(fields)
}

func (r *sessionsRepo) GetByDigest(
	ctx context.Context,
	digest string,
	rotatedAfter time.Time,
) (domain.Session, error) {
	id, err := r.client.Get(ctx, digestPrefix(r.prefix)+digest).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Session{}, store.ErrNotFound
		}
		return domain.Session{}, err
	}

	s, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if !s.RotatedAt.After(rotatedAfter) {
		return domain.Session{}, store.ErrNotFound
	}
	if s.CurrentDigest != digest && s.PreviousDigest != digest {
		return domain.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (r *sessionsRepo) ListByPrincipal(
	ctx context.Context,
	principalID string,
) ([]domain.Session, error) {
	ids, err := r.client.SMembers(ctx, principalPrefix(r.prefix)+principalID).Result()
	if err != nil {
		return nil, err
	}

	var out []domain.Session
	for _, id := range ids {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RotatedAt.After(out[j].RotatedAt)
	})
	return out, nil
}

func (r *sessionsRepo) TryRotate(
	ctx context.Context,
	id, newDigest string,
	meta domain.ClientMeta,
	now time.Time,
	safeguard time.Duration,
) (bool, error) {
	res, err := tryRotateLua.Run(ctx, r.client,
		[]string{sessKey(r.prefix, id), rotatedKey(r.prefix)},
		digestPrefix(r.prefix),
		newDigest,
		formatMillis(now),
		formatMillis(now.Add(-safeguard)),
		meta.UserAgent,
		meta.ClientIP,
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *sessionsRepo) TryMarkSeen(
	ctx context.Context,
	id, digest string,
	now time.Time,
) (bool, error) {
	res, err := tryMarkSeenLua.Run(ctx, r.client,
		[]string{sessKey(r.prefix, id)},
		digest, formatMillis(now),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *sessionsRepo) TryInvalidatePrevious(
	ctx context.Context,
	id, digest string,
	rotatedBefore time.Time,
) (bool, error) {
	res, err := tryInvalidatePreviousLua.Run(ctx, r.client,
		[]string{sessKey(r.prefix, id)},
		digest, formatMillis(rotatedBefore),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	return deleteLua.Run(ctx, r.client,
		[]string{sessKey(r.prefix, id), rotatedKey(r.prefix)},
		digestPrefix(r.prefix), principalPrefix(r.prefix),
	).Err()
}

func (r *sessionsRepo) DeleteByPrincipal(
	ctx context.Context,
	principalID string,
) (int64, error) {
	ids, err := r.client.SMembers(ctx, principalPrefix(r.prefix)+principalID).Result()
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, id := range ids {
		res, err := deleteLua.Run(ctx, r.client,
			[]string{sessKey(r.prefix, id), rotatedKey(r.prefix)},
			digestPrefix(r.prefix), principalPrefix(r.prefix),
		).Int64()
		if err != nil {
			return deleted, err
		}
		deleted += res
	}
	return deleted, nil
}

func (r *sessionsRepo) DeleteExpired(
	ctx context.Context,
	rotatedBefore time.Time,
) (int64, error) {
	return deleteExpiredLua.Run(ctx, r.client,
		[]string{rotatedKey(r.prefix)},
		sessKey(r.prefix, ""),
		digestPrefix(r.prefix),
		principalPrefix(r.prefix),
		formatMillis(rotatedBefore),
	).Int64()
}

func sessionFromHash(fields map[string]string) (domain.Session, error) {
	rotatedAt, err := parseMillis(fields["rotated_at"])
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis: bad rotated_at: %w", err)
	}
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis: bad created_at: %w", err)
	}
	updatedAt, err := parseMillis(fields["updated_at"])
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis: bad updated_at: %w", err)
	}

	s := domain.Session{
		ID:             fields["id"],
		PrincipalID:    fields["principal_id"],
		CurrentDigest:  fields["current_digest"],
		PreviousDigest: fields["previous_digest"],
		Seen:           fields["seen"] == "1",
		RotatedAt:      rotatedAt,
		UserAgent:      fields["user_agent"],
		ClientIP:       fields["client_ip"],
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}

	if raw, ok := fields["seen_at"]; ok && raw != "" {
		seenAt, err := parseMillis(raw)
		if err != nil {
			return domain.Session{}, fmt.Errorf("redis: bad seen_at: %w", err)
		}
		s.SeenAt = &seenAt
	}
	return s, nil
}
