package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// Optimistic transactions are retried this many times on WATCH conflicts.
const redisTxRetries = 8

// RedisStore keeps each task as a JSON value and indexes ids in a sorted set.
//
// Keys (prefix defaults to "tflsched:"):
//   - <prefix>task:seq   id counter
//   - <prefix>task:<id>  task JSON
//   - <prefix>tasks      sorted set of ids (score = id)
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = "tflsched:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (lifecycle.Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	st := NewRedisStore(client, cfg.KeyPrefix)
	log.Info("redis storage ready", logx.String("addr", addr), logx.Int("db", cfg.DB), logx.String("prefix", st.prefix))
	return st, nil
}

func (s *RedisStore) seqKey() string          { return s.prefix + "task:seq" }
func (s *RedisStore) indexKey() string        { return s.prefix + "tasks" }
func (s *RedisStore) taskKey(id int64) string { return s.prefix + "task:" + strconv.FormatInt(id, 10) }

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Create(ctx context.Context, scheduleTime time.Time, lines string) (lifecycle.Task, error) {
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("create task: %w", err)
	}
	t := lifecycle.Task{
		ID:           id,
		ScheduleTime: scheduleTime.UTC().Truncate(time.Second),
		Lines:        lines,
		Status:       lifecycle.StatusScheduled,
	}
	data, err := json.Marshal(t)
	if err != nil {
		return lifecycle.Task{}, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(id), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func decodeRedisTask(b []byte) (lifecycle.Task, error) {
	var t lifecycle.Task
	if err := json.Unmarshal(b, &t); err != nil {
		return lifecycle.Task{}, err
	}
	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, id int64) (lifecycle.Task, error) {
	b, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return decodeRedisTask(b)
}

func (s *RedisStore) List(ctx context.Context) ([]lifecycle.Task, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := []lifecycle.Task{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.prefix+"task:"+id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between ZRANGE and MGET
			continue
		}
		t, err := decodeRedisTask([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// watch runs fn under WATCH on the task key, retrying on concurrent writes.
func (s *RedisStore) watch(ctx context.Context, id int64, fn func(tx *redis.Tx) error) error {
	key := s.taskKey(id)
	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("task %d: too many concurrent writers", id)
}

func (s *RedisStore) Update(ctx context.Context, id int64, p lifecycle.Patch) (lifecycle.Task, error) {
	var out lifecycle.Task
	err := s.watch(ctx, id, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, s.taskKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return lifecycle.NotFound(id)
		}
		if err != nil {
			return err
		}
		cur, err := decodeRedisTask(b)
		if err != nil {
			return err
		}
		next, err := p.Apply(cur)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.taskKey(id), data, 0)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	})
	if err != nil {
		return lifecycle.Task{}, err
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id int64, expect lifecycle.Status) error {
	return s.watch(ctx, id, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, s.taskKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return lifecycle.NotFound(id)
		}
		if err != nil {
			return err
		}
		cur, err := decodeRedisTask(b)
		if err != nil {
			return err
		}
		if expect != "" && cur.Status != expect {
			return lifecycle.Conflict(id, cur.Status)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.taskKey(id))
			pipe.ZRem(ctx, s.indexKey(), strconv.FormatInt(id, 10))
			return nil
		})
		return err
	})
}
