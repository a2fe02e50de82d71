package execqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenex-chat/tenex-kernel/internal/conversation"
	"github.com/tenex-chat/tenex-kernel/internal/kernelerrors"
)

// RedisStore persists lock and queue state in Redis so multiple tenexd
// processes can share a single ExecutionQueue per project, per SPEC_FULL.md's
// distributed-deployment domain stack addition. Queue ordering uses a sorted
// set scored by enqueuedAt-then-conversationId so ZRANGE already returns
// strict FIFO order (spec.md §4.7 fairness rule).
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore. prefix namespaces all keys (e.g.
// "tenex:execqueue:") so the queue can share a Redis instance with other
// kernel components.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tenex:execqueue:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) lockKey(project string) string  { return r.prefix + project + ":lock" }
func (r *RedisStore) queueKey(project string) string { return r.prefix + project + ":queue" }
func (r *RedisStore) statsKey(project string) string { return r.prefix + project + ":stats" }
func (r *RedisStore) indexKey() string               { return r.prefix + "projects" }

type redisQueueMember struct {
	ConversationID string    `json:"conversationId"`
	HeldBy         string    `json:"heldBy"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
	Retries        int       `json:"retries"`
}

func (r *RedisStore) Get(ctx context.Context, project string) (*Lock, []QueueEntry, error) {
	var lock *Lock
	data, err := r.rdb.Get(ctx, r.lockKey(project)).Bytes()
	switch {
	case err == nil:
		var l Lock
		if jerr := json.Unmarshal(data, &l); jerr != nil {
			return nil, nil, kernelerrors.Wrap(kernelerrors.KindLock, "unmarshal lock", jerr)
		}
		lock = &l
	case err == redis.Nil:
		// no lock held.
	default:
		return nil, nil, kernelerrors.Wrap(kernelerrors.KindLock, "get lock", err)
	}

	members, err := r.rdb.ZRange(ctx, r.queueKey(project), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, nil, kernelerrors.Wrap(kernelerrors.KindLock, "get queue", err)
	}
	queue := make([]QueueEntry, 0, len(members))
	for _, m := range members {
		var qm redisQueueMember
		if err := json.Unmarshal([]byte(m), &qm); err != nil {
			continue
		}
		queue = append(queue, QueueEntry{
			ConversationID: conversation.ID(qm.ConversationID),
			HeldBy:         conversation.AgentID(qm.HeldBy),
			EnqueuedAt:     qm.EnqueuedAt,
			Retries:        qm.Retries,
		})
	}
	return lock, queue, nil
}

func (r *RedisStore) Put(ctx context.Context, project string, lock *Lock, queue []QueueEntry) error {
	pipe := r.rdb.TxPipeline()
	if lock == nil {
		pipe.Del(ctx, r.lockKey(project))
	} else {
		data, err := json.Marshal(lock)
		if err != nil {
			return kernelerrors.Wrap(kernelerrors.KindLock, "marshal lock", err)
		}
		pipe.Set(ctx, r.lockKey(project), data, 0)
	}

	pipe.Del(ctx, r.queueKey(project))
	for _, e := range queue {
		qm := redisQueueMember{
			ConversationID: string(e.ConversationID),
			HeldBy:         string(e.HeldBy),
			EnqueuedAt:     e.EnqueuedAt,
			Retries:        e.Retries,
		}
		data, err := json.Marshal(qm)
		if err != nil {
			return kernelerrors.Wrap(kernelerrors.KindLock, "marshal queue entry", err)
		}
		score := float64(e.EnqueuedAt.UnixNano())
		pipe.ZAdd(ctx, r.queueKey(project), redis.Z{Score: score, Member: data})
	}
	pipe.SAdd(ctx, r.indexKey(), project)

	if _, err := pipe.Exec(ctx); err != nil {
		return kernelerrors.Wrap(kernelerrors.KindLock, "persist execqueue state", err)
	}
	return nil
}

func (r *RedisStore) RecordExecDuration(ctx context.Context, project string, d time.Duration) {
	pipe := r.rdb.TxPipeline()
	pipe.IncrByFloat(ctx, r.statsKey(project)+":total_ms", float64(d.Milliseconds()))
	pipe.Incr(ctx, r.statsKey(project)+":count")
	_, _ = pipe.Exec(ctx)
}

func (r *RedisStore) AvgExecDuration(ctx context.Context, project string) time.Duration {
	totalMs, err := r.rdb.Get(ctx, r.statsKey(project)+":total_ms").Float64()
	if err != nil {
		return 0
	}
	count, err := r.rdb.Get(ctx, r.statsKey(project)+":count").Int64()
	if err != nil || count == 0 {
		return 0
	}
	return time.Duration(totalMs/float64(count)) * time.Millisecond
}

func (r *RedisStore) Projects(ctx context.Context) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, kernelerrors.Wrap(kernelerrors.KindLock, "list projects", err)
	}
	return members, nil
}
