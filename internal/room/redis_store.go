package room

import (
	"context"
	"time"

	"github.com/mossy-p/video-chat-relay/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const attachmentTTL = 24 * time.Hour

// RedisStore keeps each room's attachments in one Redis hash keyed by
// connection handle, msgpack encoded.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionsKey(roomID string) string {
	return "room:" + roomID + ":sessions"
}

func (s *RedisStore) Save(ctx context.Context, roomID string, h Handle, a models.Attachment) error {
	payload, err := msgpack.Marshal(&a)
	if err != nil {
		return errors.Wrap(err, "encode attachment")
	}

	key := sessionsKey(roomID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, string(h), payload)
	pipe.Expire(ctx, key, attachmentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "save attachment %s/%s", roomID, h)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, roomID string) (map[Handle]models.Attachment, error) {
	fields, err := s.client.HGetAll(ctx, sessionsKey(roomID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "load attachments for %s", roomID)
	}

	out := make(map[Handle]models.Attachment, len(fields))
	for field, value := range fields {
		var a models.Attachment
		if err := msgpack.Unmarshal([]byte(value), &a); err != nil {
			logrus.WithFields(logrus.Fields{"room": roomID, "handle": field}).WithError(err).Warn("Skipping undecodable attachment")
			continue
		}
		out[Handle(field)] = a
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, roomID string, handles ...Handle) error {
	if len(handles) == 0 {
		return nil
	}
	fields := make([]string, len(handles))
	for i, h := range handles {
		fields[i] = string(h)
	}
	if err := s.client.HDel(ctx, sessionsKey(roomID), fields...).Err(); err != nil {
		return errors.Wrapf(err, "delete attachments for %s", roomID)
	}
	return nil
}
