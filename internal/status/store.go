// Package status persists per-identity last-seen timestamps in Redis so
// membership snapshots can tell clients when an offline counterpart was
// last around, across chatd restarts.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// LastSeenPrefix is the Redis key prefix for last-seen records.
	LastSeenPrefix = "lastseen:"

	// LastSeenTTL bounds how long a last-seen record is kept. Identities
	// inactive longer than this simply show no last-seen.
	LastSeenTTL = 30 * 24 * time.Hour
)

// Store manages last-seen state in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a status store connected to Redis at addr.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("status: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// Touch stamps the identity's last-seen to now. Called on connect and on
// disconnect.
func (s *Store) Touch(ctx context.Context, identity string) error {
	key := LastSeenPrefix + identity
	return s.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), LastSeenTTL).Err()
}

// LastSeen returns the identity's last-seen timestamp. The second return is
// false when no record exists.
func (s *Store) LastSeen(ctx context.Context, identity string) (time.Time, bool, error) {
	key := LastSeenPrefix + identity
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("status: corrupt last-seen for %s: %w", identity, err)
	}
	return ts, true, nil
}

// LastSeenMany resolves last-seen for a batch of identities in one pipeline
// round-trip. Identities without a record are absent from the result.
func (s *Store) LastSeenMany(ctx context.Context, identities []string) (map[string]time.Time, error) {
	if len(identities) == 0 {
		return map[string]time.Time{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(identities))
	for _, id := range identities {
		cmds[id] = pipe.Get(ctx, LastSeenPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(identities))
	for id, cmd := range cmds {
		val, err := cmd.Result()
		if err != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
			out[id] = ts
		}
	}
	return out, nil
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
