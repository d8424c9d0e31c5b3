// Package redis implements the work queue on a Redis list plus a sorted set of
// in-flight receipts scored by their visibility deadline.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/queue"
)

// Client is the subset of go-redis used by the queue.
type Client interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	RPop(ctx context.Context, key string) *goredis.StringCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
	ZAdd(ctx context.Context, key string, members ...goredis.Z) *goredis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *goredis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *goredis.ZRangeBy) *goredis.StringSliceCmd
	ZCard(ctx context.Context, key string) *goredis.IntCmd
}

// Config holds the queue keys and timeouts.
type Config struct {
	Addr       string
	Prefix     string
	Visibility time.Duration
}

// Queue implements harvest.Queue and harvest.Enqueuer.
type Queue struct {
	client      Client
	pendingKey  string
	inflightKey string
	visibility  time.Duration
	now         func() time.Time
}

// Dial connects to cfg.Addr. The returned close func releases the connection.
func Dial(cfg Config) (*Queue, func() error, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
	q, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return q, client.Close, nil
}

// New wraps an existing client.
func New(client Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Visibility <= 0 {
		return nil, fmt.Errorf("visibility timeout must be > 0")
	}
	return &Queue{
		client:      client,
		pendingKey:  cfg.Prefix + "pending",
		inflightKey: cfg.Prefix + "inflight",
		visibility:  cfg.Visibility,
		now:         time.Now,
	}, nil
}

// Enqueue pushes bodies in batches so a large input does not become one huge command.
func (q *Queue) Enqueue(ctx context.Context, bodies ...string) error {
	for _, batch := range queue.Batches(bodies, queue.EnqueueBatchSize) {
		values := make([]any, len(batch))
		for i, body := range batch {
			values[i] = body
		}
		if err := q.client.LPush(ctx, q.pendingKey, values...).Err(); err != nil {
			return fmt.Errorf("lpush batch: %w", err)
		}
	}
	return nil
}

// Receive pops up to maxMessages, blocking up to wait for the first one.
// TODO: switch to BLMOVE into a processing list so a crash between the pop
// and the ZADD cannot lose the message.
func (q *Queue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]harvest.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if err := q.requeueExpired(ctx); err != nil {
		return nil, err
	}

	var bodies []string
	first, ok, err := q.popFirst(ctx, wait)
	if err != nil || !ok {
		return nil, err
	}
	bodies = append(bodies, first)
	for len(bodies) < maxMessages {
		body, err := q.client.RPop(ctx, q.pendingKey).Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rpop: %w", err)
		}
		bodies = append(bodies, body)
	}

	deadline := float64(q.now().Add(q.visibility).UnixMilli())
	msgs := make([]harvest.Message, 0, len(bodies))
	members := make([]goredis.Z, 0, len(bodies))
	for _, body := range bodies {
		receipt := uuid.NewString() + "|" + body
		members = append(members, goredis.Z{Score: deadline, Member: receipt})
		msgs = append(msgs, harvest.Message{Body: body, ReceiptHandle: receipt})
	}
	if err := q.client.ZAdd(ctx, q.inflightKey, members...).Err(); err != nil {
		return nil, fmt.Errorf("zadd inflight: %w", err)
	}
	return msgs, nil
}

func (q *Queue) popFirst(ctx context.Context, wait time.Duration) (string, bool, error) {
	// BRPOP with a zero timeout blocks forever, so a zero wait is a plain RPOP.
	if wait <= 0 {
		body, err := q.client.RPop(ctx, q.pendingKey).Result()
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("rpop: %w", err)
		}
		return body, true, nil
	}
	res, err := q.client.BRPop(ctx, wait, q.pendingKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("brpop: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("brpop: unexpected reply %v", res)
	}
	return res[1], true, nil
}

// Delete acknowledges a message by removing its receipt.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	removed, err := q.client.ZRem(ctx, q.inflightKey, receiptHandle).Result()
	if err != nil {
		return fmt.Errorf("zrem inflight: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("unknown or expired receipt handle")
	}
	return nil
}

// Counts returns the pending list length and in-flight set size.
func (q *Queue) Counts(ctx context.Context) (int, int, error) {
	if err := q.requeueExpired(ctx); err != nil {
		return 0, 0, err
	}
	visible, err := q.client.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen pending: %w", err)
	}
	inFlight, err := q.client.ZCard(ctx, q.inflightKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("zcard inflight: %w", err)
	}
	return int(visible), int(inFlight), nil
}

// requeueExpired moves receipts past their deadline back to the pending list.
// ZREM decides the winner when several consumers race on the same receipt.
func (q *Queue) requeueExpired(ctx context.Context) error {
	expired, err := q.client.ZRangeByScore(ctx, q.inflightKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan inflight: %w", err)
	}
	for _, receipt := range expired {
		removed, err := q.client.ZRem(ctx, q.inflightKey, receipt).Result()
		if err != nil {
			return fmt.Errorf("zrem expired: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.pendingKey, bodyOf(receipt)).Err(); err != nil {
			return fmt.Errorf("requeue expired: %w", err)
		}
	}
	return nil
}

func bodyOf(receipt string) string {
	_, body, found := strings.Cut(receipt, "|")
	if !found {
		return receipt
	}
	return body
}
