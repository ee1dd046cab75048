package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookweather-chat/server/internal/agent/model"
	errx "github.com/bookweather-chat/server/internal/core/error"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

const chatLogKey = "chatlog:entries"

// RedisChatLogRepository keeps the most recent exchanges in a Redis list.
type RedisChatLogRepository struct {
	rdb        redis.Cmdable
	ttl        time.Duration
	maxEntries int64
}

// NewRedisChatLogRepository returns a repository that keeps at most
// maxEntries entries and expires the list ttl after the last write.
// Zero values disable the respective bound.
func NewRedisChatLogRepository(rdb redis.Cmdable, ttl time.Duration, maxEntries int) *RedisChatLogRepository {
	return &RedisChatLogRepository{rdb: rdb, ttl: ttl, maxEntries: int64(maxEntries)}
}

func (r *RedisChatLogRepository) Save(ctx context.Context, entry model.ChatLogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		logx.Error().Err(err).Str("entryID", entry.ID).Msg("failed to marshal chat log entry")
		return fmt.Errorf("marshal chat log entry: %w", err)
	}

	if err := r.rdb.RPush(ctx, chatLogKey, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", chatLogKey).Msg("failed to push chat log entry to redis")
		return errx.WrapRedis("rpush "+chatLogKey, err)
	}
	if r.maxEntries > 0 {
		if err := r.rdb.LTrim(ctx, chatLogKey, -r.maxEntries, -1).Err(); err != nil {
			logx.Error().Err(err).Str("key", chatLogKey).Msg("failed to trim chat log")
			return errx.WrapRedis("ltrim "+chatLogKey, err)
		}
	}
	// extend TTL on touch
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, chatLogKey, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", chatLogKey).Msg("failed to set expire")
			return errx.WrapRedis("expire "+chatLogKey, err)
		} else if !ok {
			logx.Warn().Str("key", chatLogKey).Dur("ttl", r.ttl).Msg("failed to set TTL on chat log key")
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit <= 0 returns all.
func (r *RedisChatLogRepository) Recent(ctx context.Context, limit int) ([]model.ChatLogEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	rows, err := r.rdb.LRange(ctx, chatLogKey, start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.ChatLogEntry{}, nil
		}
		logx.Error().Err(err).Str("key", chatLogKey).Msg("failed to load chat log from redis")
		return nil, errx.WrapRedis("lrange "+chatLogKey, err)
	}

	entries := make([]model.ChatLogEntry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		var e model.ChatLogEntry
		if err := json.Unmarshal([]byte(rows[i]), &e); err != nil {
			logx.Error().Err(err).Int("index", i).Msg("failed to unmarshal chat log entry")
			return nil, fmt.Errorf("unmarshal chat log entry at index %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

var _ model.ChatLogRepository = (*RedisChatLogRepository)(nil)
