package timestamp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// recordScript sets the new high-water mark only if it advances the stored
// one, so a racing writer on the same group is detected instead of
// silently reordered.
var recordScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(ARGV[1]) <= tonumber(current) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisLastSeenStore shares per-group high-water marks across write-path
// instances. Values are stored as UTC millisecond epochs.
type RedisLastSeenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLastSeenStore creates a Redis-backed last-seen store.
func NewRedisLastSeenStore(client *redis.Client) *RedisLastSeenStore {
	return &RedisLastSeenStore{client: client, prefix: "zonecore:group:last:"}
}

func (s *RedisLastSeenStore) key(groupID domain.GroupID) string {
	return s.prefix + groupID.String()
}

// Last returns the group's last accepted timestamp, or the zero time.
func (s *RedisLastSeenStore) Last(ctx context.Context, groupID domain.GroupID) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key(groupID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last timestamp: %w", err)
	}
	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last timestamp %q: %w", val, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// Record stores accepted if it advances the group's high-water mark.
func (s *RedisLastSeenStore) Record(ctx context.Context, groupID domain.GroupID, accepted time.Time) error {
	ok, err := recordScript.Run(ctx, s.client, []string{s.key(groupID)}, accepted.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("record last timestamp: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("group %s: concurrent writer advanced the group: %w",
			groupID, sentinel.ErrTimestampCollision)
	}
	return nil
}
