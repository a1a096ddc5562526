package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// putScript writes both halves of a record and removes the reverse entry
// of any record it replaces, all inside one script execution.
//
// KEYS[1] forward key, ARGV[1] user id, ARGV[2] new token,
// ARGV[3] ttl in milliseconds.
var putScript = redis.NewScript(`
local old = redis.call("GET", KEYS[1])
if old then
  redis.call("DEL", "refreshToken:" .. old)
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
redis.call("SET", "refreshToken:" .. ARGV[2], ARGV[1], "PX", ARGV[3])
return 1
`)

// rotateScript is the conditional swap: it succeeds only when the stored
// token still equals the expected one, so concurrent refreshes resolve to
// exactly one winner.
//
// KEYS[1] forward key, ARGV[1] user id, ARGV[2] expected old token,
// ARGV[3] new token, ARGV[4] ttl in milliseconds.
var rotateScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur or cur ~= ARGV[2] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("DEL", "refreshToken:" .. cur)
redis.call("SET", KEYS[1], ARGV[3], "PX", ARGV[4])
redis.call("SET", "refreshToken:" .. ARGV[3], ARGV[1], "PX", ARGV[4])
return 1
`)

// deleteScript drops both halves of whatever record exists.
//
// KEYS[1] forward key.
var deleteScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
  redis.call("DEL", "refreshToken:" .. cur)
end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisStore implements Store against a shared Redis deployment. All three
// mutations run as Lua scripts so both halves of a record always move
// together even under concurrent callers on other instances.
//
// The scripts derive the reverse key from the stored value inside Lua, so
// forward and reverse keys must live on the same node: the store requires
// a standalone Redis (or a single-shard setup), not Redis Cluster.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an established client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, userID, refreshToken string, ttl time.Duration) error {
	if err := validateArgs(userID, refreshToken, ttl); err != nil {
		return err
	}
	if err := putScript.Run(ctx, s.client, []string{forwardKey(userID)},
		userID, refreshToken, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (s *RedisStore) Rotate(ctx context.Context, userID, expectedOld, newToken string, ttl time.Duration) error {
	if err := validateArgs(userID, newToken, ttl); err != nil {
		return err
	}
	if expectedOld == "" {
		return errors.New("session: expected token is required")
	}
	ok, err := rotateScript.Run(ctx, s.client, []string{forwardKey(userID)},
		userID, expectedOld, newToken, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("session rotate: %w", err)
	}
	if ok != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) GetTokenForUser(ctx context.Context, userID string) (string, error) {
	val, err := s.client.Get(ctx, forwardKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session get by user: %w", err)
	}
	return val, nil
}

func (s *RedisStore) GetUserForToken(ctx context.Context, refreshToken string) (string, error) {
	val, err := s.client.Get(ctx, reverseKey(refreshToken)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session get by token: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("session: userID is required")
	}
	if err := deleteScript.Run(ctx, s.client, []string{forwardKey(userID)}).Err(); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

func validateArgs(userID, token string, ttl time.Duration) error {
	if userID == "" {
		return errors.New("session: userID is required")
	}
	if token == "" {
		return errors.New("session: token is required")
	}
	if ttl <= 0 {
		return errors.New("session: ttl must be greater than zero")
	}
	return nil
}
