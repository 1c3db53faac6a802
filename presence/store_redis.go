package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/rpgserver/models"
)

const presenceTTL = 7 * 24 * time.Hour

// RedisStore keeps presence records in Redis under presence:<userID>.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) key(userID string) string {
	return "presence:" + userID
}

func (s *RedisStore) SavePresence(ctx context.Context, record *models.PresenceRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(record.UserID), raw, presenceTTL).Err()
}

// GetPresence returns the stored record, or an offline record when the
// user has never been seen. After a process restart presence is unknown,
// so absence reads as offline until a fresh online handshake arrives.
func (s *RedisStore) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return &models.PresenceRecord{UserID: userID, Status: models.PresenceOffline}, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.PresenceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
