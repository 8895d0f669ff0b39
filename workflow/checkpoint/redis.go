package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

const defaultRedisKeyPrefix = "agentgraph:checkpoint:"

// RedisStore 基于 Redis 的检查点存储。
// 每条记录存放在独立的 key 中，提交顺序由 run 级自增序列维护，
// 全量索引与按父节点的子索引使用有序集合。
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}
}

func (s *RedisStore) dataKey(runID, checkpointID string) string {
	return s.keyPrefix + runID + ":data:" + checkpointID
}

func (s *RedisStore) indexKey(runID string) string {
	return s.keyPrefix + runID + ":index"
}

func (s *RedisStore) childrenKey(runID, parentID string) string {
	return s.keyPrefix + runID + ":children:" + parentID
}

func (s *RedisStore) seqKey(runID string) string {
	return s.keyPrefix + runID + ":seq"
}

// Ping 检查连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Commit(ctx context.Context, runID string, value wire.Value, parent *Info) (Info, error) {
	if err := validateRunID(runID); err != nil {
		return Info{}, err
	}
	if err := validateParent(runID, parent); err != nil {
		return Info{}, err
	}
	if parent != nil {
		n, err := s.client.Exists(ctx, s.dataKey(runID, parent.CheckpointID)).Result()
		if err != nil {
			return Info{}, fmt.Errorf("check parent checkpoint: %w", err)
		}
		if n == 0 {
			return Info{}, notFound(runID, *parent)
		}
	}

	id, err := newCheckpointID()
	if err != nil {
		return Info{}, err
	}
	rec := Record{
		Info:      Info{RunID: runID, CheckpointID: id},
		Parent:    cloneInfo(parent),
		Value:     value,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Info{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.seqKey(runID)).Result()
	if err != nil {
		return Info{}, fmt.Errorf("allocate checkpoint sequence: %w", err)
	}
	score := float64(seq)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(runID, id), data, 0)
	pipe.ZAdd(ctx, s.indexKey(runID), redis.Z{Score: score, Member: id})
	if parent != nil {
		pipe.ZAdd(ctx, s.childrenKey(runID, parent.CheckpointID), redis.Z{Score: score, Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Info{}, fmt.Errorf("commit checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint committed",
		zap.String("run_id", runID),
		zap.String("checkpoint_id", id),
		zap.Int64("seq", seq),
	)
	return rec.Info, nil
}

func (s *RedisStore) Retrieve(ctx context.Context, runID string, info Info) (wire.Value, error) {
	rec, err := s.Load(ctx, runID, info)
	if err != nil {
		return wire.Value{}, err
	}
	return rec.Value, nil
}

func (s *RedisStore) Load(ctx context.Context, runID string, info Info) (*Record, error) {
	if info.RunID != "" && info.RunID != runID {
		return nil, notFound(runID, info)
	}
	data, err := s.client.Get(ctx, s.dataKey(runID, info.CheckpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(runID, info)
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) ListIndex(ctx context.Context, runID string, parent *Info) ([]Info, error) {
	key := s.indexKey(runID)
	if parent != nil {
		key = s.childrenKey(runID, parent.CheckpointID)
	}
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, Info{RunID: runID, CheckpointID: id})
	}
	return out, nil
}
