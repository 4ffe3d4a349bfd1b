package spool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultClaimTTL bounds how long a crashed drainer can hold an entry.
const DefaultClaimTTL = 5 * time.Minute

// RedisQueue keeps entries in Redis so several bridge replicas share one
// spool. Layout under prefix:
//
//	<prefix>:pending      ZSET of ids scored by creation time
//	<prefix>:entry:<id>   encoded entry body
//	<prefix>:claim:<id>   claim token, expires after ClaimTTL
type RedisQueue struct {
	cli      redis.UniversalClient
	prefix   string
	ClaimTTL time.Duration
	now      func() time.Time
}

// NewRedisQueue wraps an existing client.
func NewRedisQueue(cli redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "maxbridge:spool"
	}
	return &RedisQueue{cli: cli, prefix: prefix, ClaimTTL: DefaultClaimTTL, now: time.Now}
}

func (q *RedisQueue) pendingKey() string { return q.prefix + ":pending" }
func (q *RedisQueue) entryKey(id string) string { return q.prefix + ":entry:" + id }
func (q *RedisQueue) claimKey(id string) string { return q.prefix + ":claim:" + id }

// Enqueue stores the body and indexes it in one transaction.
func (q *RedisQueue) Enqueue(ctx context.Context, chatID int64, text string) (string, error) {
	now := q.now()
	id := NewID(now)
	body := Entry{ChatID: chatID, Text: text}.Encode()

	_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.entryKey(id), body, 0)
		p.ZAdd(ctx, q.pendingKey(), redis.Z{Score: float64(now.UnixNano()), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("spool: redis enqueue: %w", err)
	}
	return id, nil
}

// List returns pending ids oldest first.
func (q *RedisQueue) List(ctx context.Context) ([]string, error) {
	ids, err := q.cli.ZRange(ctx, q.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("spool: redis list: %w", err)
	}
	return ids, nil
}

// Claim sets the claim key only if absent.
func (q *RedisQueue) Claim(ctx context.Context, id string) (Claim, error) {
	token := uuid.NewString()
	ok, err := q.cli.SetNX(ctx, q.claimKey(id), token, q.ClaimTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("spool: redis claim %s: %w", id, err)
	}
	if !ok {
		return nil, ErrClaimed
	}

	body, err := q.cli.Get(ctx, q.entryKey(id)).Bytes()
	if err != nil {
		_ = q.cli.Del(ctx, q.claimKey(id)).Err()
		if errors.Is(err, redis.Nil) {
			_ = q.cli.ZRem(ctx, q.pendingKey(), id).Err()
			return nil, ErrGone
		}
		return nil, fmt.Errorf("spool: redis read %s: %w", id, err)
	}
	return &redisClaim{q: q, entry: Decode(id, body), token: token}, nil
}

type redisClaim struct {
	q     *RedisQueue
	entry Entry
	token string
	done  bool
}

func (c *redisClaim) Entry() Entry { return c.entry }

func (c *redisClaim) Complete(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true
	id := c.entry.ID
	_, err := c.q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.q.entryKey(id))
		p.ZRem(ctx, c.q.pendingKey(), id)
		p.Del(ctx, c.q.claimKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("spool: redis complete %s: %w", id, err)
	}
	return nil
}

// releaseScript deletes the claim only when this drainer still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *redisClaim) Release(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true
	if err := releaseScript.Run(ctx, c.q.cli, []string{c.q.claimKey(c.entry.ID)}, c.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("spool: redis release %s: %w", c.entry.ID, err)
	}
	return nil
}
