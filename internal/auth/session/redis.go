package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each session as JSON under "session:{id}" with a TTL and
// indexes them per user in the set "user_sessions:{userID}".
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func sessionKey(id string) string         { return "session:" + id }
func userSessionsKey(userID string) string { return "user_sessions:" + userID }

func (r *RedisStore) Save(ctx context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", s.ID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	idxKey := userSessionsKey(s.UserID)
	current, err := r.client.PTTL(ctx, idxKey).Result()
	if err != nil {
		return fmt.Errorf("redis pttl failed: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, ttl)
	pipe.SAdd(ctx, idxKey, s.ID)
	// The index lives as long as its longest session.
	if current < ttl {
		pipe.PExpire(ctx, idxKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save session failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	} else if err != nil {
		return Session{}, fmt.Errorf("redis get failed: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		// If unmarshal fails, delete corrupt data
		r.client.Del(ctx, sessionKey(id))
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		// Still drop the key even if the payload was unreadable.
		return r.client.Del(ctx, sessionKey(id)).Err()
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSessionsKey(s.UserID), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	idxKey := userSessionsKey(userID)
	ids, err := r.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return fmt.Errorf("redis smembers failed: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, idxKey)
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) ListUser(ctx context.Context, userID string) ([]Session, error) {
	idxKey := userSessionsKey(userID)
	ids, err := r.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	out := make([]Session, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, s)
	}
	if len(stale) > 0 {
		r.client.SRem(ctx, idxKey, stale...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
