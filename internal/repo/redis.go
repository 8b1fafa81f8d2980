package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/ss2dbx/server/internal/core/error"
	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

type RedisSessionRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionRepository(rdb redis.Cmdable, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionRepository) stateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

func (r *RedisSessionRepository) runsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:runs", sessionID)
}

func (r *RedisSessionRepository) Load(ctx context.Context, sessionID string) (*model.SessionState, error) {
	key := r.stateKey(sessionID)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.NewSessionState(sessionID), nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session state from redis")
		return nil, errx.WrapRedis(err)
	}

	var s model.SessionState
	if err := json.Unmarshal(raw, &s); err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to unmarshal session state")
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, state *model.SessionState) error {
	if state == nil || state.ID == "" {
		return fmt.Errorf("session state without id")
	}
	b, err := json.Marshal(state)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", state.ID).Msg("failed to marshal session state")
		return fmt.Errorf("marshal session state: %w", err)
	}

	key := r.stateKey(state.ID)
	// zero TTL keeps the key forever
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save session state to redis")
		return errx.WrapRedis(err)
	}
	// runs live as long as the state they belong to
	if r.ttl > 0 {
		if err := r.rdb.Expire(ctx, r.runsKey(state.ID), r.ttl).Err(); err != nil {
			logx.Warn().Err(err).Str("sessionID", state.ID).Msg("failed to extend TTL on session runs")
		}
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, sessionID string) error {
	keys := []string{r.stateKey(sessionID), r.runsKey(sessionID)}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		logx.Error().Err(err).Strs("keys", keys).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionRepository) AppendRun(ctx context.Context, sessionID string, run model.StageRun) error {
	b, err := json.Marshal(run)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to marshal stage run")
		return fmt.Errorf("marshal stage run: %w", err)
	}
	key := r.runsKey(sessionID)

	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push stage run to redis")
		return errx.WrapRedis(err)
	}
	// extend TTL on touch
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on session runs key")
		}
	}
	return nil
}

func (r *RedisSessionRepository) ListRuns(ctx context.Context, sessionID string) ([]model.StageRun, error) {
	key := r.runsKey(sessionID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.StageRun{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load stage runs from redis")
		return nil, errx.WrapRedis(err)
	}

	runs := make([]model.StageRun, 0, len(rows))
	for i, s := range rows {
		var run model.StageRun
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			logx.Error().Err(err).Str("sessionID", sessionID).Int("index", i).Msg("failed to unmarshal stage run")
			return nil, fmt.Errorf("unmarshal stage run at index %d: %w", i, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

var _ model.SessionRepository = (*RedisSessionRepository)(nil)
