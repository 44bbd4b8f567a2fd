// Package redisstore keeps per-user checkout sessions in Redis.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/checkout"
)

const (
	fieldVersion = "v"
	fieldData    = "data"
)

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ checkout.SessionStore = (*SessionStore)(nil)

// SessionStore implements checkout.SessionStore. Each session is a hash with
// the encoded session and its version; the key expires ttl after the last
// write.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionStore returns a SessionStore with keys under prefix.
func NewSessionStore(client *redis.Client, prefix string, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) sessionKey(userID string) string {
	return s.prefix + "session:" + userID
}

func (s *SessionStore) lockKey(userID string) string {
	return s.prefix + "lock:" + userID
}

// Load returns the stored session or an empty one.
func (s *SessionStore) Load(ctx context.Context, userID string) (*checkout.Session, error) {
	vals, err := s.client.HMGet(ctx, s.sessionKey(userID), fieldVersion, fieldData).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis hmget")
	}
	return decode(vals[0], vals[1])
}

func decode(rawVersion, rawData any) (*checkout.Session, error) {
	vs, ok1 := rawVersion.(string)
	data, ok2 := rawData.(string)
	if !ok1 || !ok2 {
		return checkout.NewSession(), nil
	}

	version, err := strconv.ParseInt(vs, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse session version")
	}
	sess, err := checkout.UnmarshalSession([]byte(data))
	if err != nil {
		return nil, err
	}
	sess.Version = version
	return sess, nil
}

// Save writes sess if nobody saved since it was loaded.
func (s *SessionStore) Save(ctx context.Context, userID string, sess *checkout.Session) error {
	data, err := checkout.MarshalSession(userID, sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	key := s.sessionKey(userID)
	next := sess.Version + 1

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		switch {
		case errors.Is(err, redis.Nil):
			current = 0
		case err != nil:
			return errors.Wrap(err, "redis hget")
		}
		if current != sess.Version {
			return checkout.ErrSessionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldVersion, next, fieldData, data)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return checkout.ErrSessionConflict
	}
	if err != nil {
		return err
	}

	sess.Version = next
	return nil
}

// Lock takes the user's checkout lock for ttl.
func (s *SessionStore) Lock(ctx context.Context, userID string, ttl time.Duration) (func(), error) {
	key := s.lockKey(userID)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis setnx")
	}
	if !ok {
		return nil, checkout.ErrLocked
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseLock.Run(ctx, s.client, []string{key}, token).Err(); err != nil {
			zctx.From(ctx).Warn("Release checkout lock", zap.String("user_id", userID), zap.Error(err))
		}
	}, nil
}
