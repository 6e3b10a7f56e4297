package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-relay/internal/models"
)

const (
	presenceIndexKey = "presence:users"
	presenceUserKey  = "presence:user:"
)

// RedisPresenceRepo stores presence in Redis: one hash per identity plus
// a set indexing every identity ever seen.
type RedisPresenceRepo struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisPresenceRepo constructs a RedisPresenceRepo. prefix namespaces the keys.
func NewRedisPresenceRepo(client *redis.Client, prefix string) *RedisPresenceRepo {
	return &RedisPresenceRepo{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisPresenceRepo) SetOnline(ctx context.Context, identity models.Identity) error {
	return r.set(ctx, identity, models.StatusOnline)
}

func (r *RedisPresenceRepo) SetOffline(ctx context.Context, identity models.Identity) error {
	return r.set(ctx, identity, models.StatusOffline)
}

func (r *RedisPresenceRepo) set(ctx context.Context, identity models.Identity, status models.PresenceStatus) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.prefix+presenceUserKey+identity.ID,
			"id", identity.ID,
			"name", identity.Name,
			"role", identity.Role,
			"status", string(status),
			"last_seen", strconv.FormatInt(r.now().UTC().UnixMilli(), 10),
		)
		pipe.SAdd(ctx, r.prefix+presenceIndexKey, identity.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set presence %s: %w", identity.ID, err)
	}
	return nil
}

// Snapshot reads every indexed identity in a single pipeline.
func (r *RedisPresenceRepo) Snapshot(ctx context.Context) ([]models.PresenceEntry, error) {
	ids, err := r.client.SMembers(ctx, r.prefix+presenceIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.prefix+presenceUserKey+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	out := make([]models.PresenceEntry, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		entry := models.PresenceEntry{
			Identity: models.Identity{ID: fields["id"], Name: fields["name"], Role: fields["role"]},
			Status:   models.PresenceStatus(fields["status"]),
		}
		if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
			entry.LastSeen = time.UnixMilli(ms).UTC()
		}
		out = append(out, entry)
	}
	sortPresence(out)
	return out, nil
}

// Reset marks every indexed identity offline. Entries already offline keep their lastSeen.
func (r *RedisPresenceRepo) Reset(ctx context.Context) error {
	entries, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	stamp := strconv.FormatInt(r.now().UTC().UnixMilli(), 10)
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			if e.Status != models.StatusOnline {
				continue
			}
			pipe.HSet(ctx, r.prefix+presenceUserKey+e.ID,
				"status", string(models.StatusOffline),
				"last_seen", stamp,
			)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

var _ PresenceRepository = (*RedisPresenceRepo)(nil)
