// Package redis implements harvest.Claimer with Redis keys for deployments
// without a shared filesystem. The lock key carries the staleness timeout as
// its TTL, so an abandoned lock simply expires.
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// Client is the subset of go-redis used by the coordinator.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
}

// Config controls key naming and lock expiry.
type Config struct {
	Addr          string
	Prefix        string
	LockStaleness time.Duration
	OwnerID       string
}

// Coordinator implements harvest.Claimer.
type Coordinator struct {
	client Client
	cfg    Config
	clock  harvest.Clock
	logger *zap.Logger
}

// Dial connects to cfg.Addr. The returned close func releases the connection.
func Dial(cfg Config, clock harvest.Clock, logger *zap.Logger) (*Coordinator, func() error, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
	c, err := New(client, cfg, clock, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return c, client.Close, nil
}

// New wraps an existing client.
func New(client Client, cfg Config, clock harvest.Clock, logger *zap.Logger) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.LockStaleness <= 0 {
		return nil, fmt.Errorf("lock staleness must be > 0")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{client: client, cfg: cfg, clock: clock, logger: logger}, nil
}

func (c *Coordinator) lockKey(unitID string) string {
	return c.cfg.Prefix + "lock:" + unitID
}

func (c *Coordinator) doneKey(unitID string) string {
	return c.cfg.Prefix + "done:" + unitID
}

// IsComplete reports whether the unit's completion key exists.
func (c *Coordinator) IsComplete(ctx context.Context, unitID string) (bool, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return false, err
	}
	n, err := c.client.Exists(ctx, c.doneKey(unitID)).Result()
	if err != nil {
		return false, fmt.Errorf("exists done key: %w", err)
	}
	return n > 0, nil
}

// TryClaim sets the lock key if absent.
func (c *Coordinator) TryClaim(ctx context.Context, unitID string) (harvest.ClaimResult, error) {
	done, err := c.IsComplete(ctx, unitID)
	if err != nil {
		return harvest.Busy, fmt.Errorf("check completion: %w", err)
	}
	if done {
		return harvest.AlreadyDone, nil
	}
	content := fmt.Sprintf("Locked by %s (pid %d) at %d", c.cfg.OwnerID, os.Getpid(), c.clock.Now().Unix())
	ok, err := c.client.SetNX(ctx, c.lockKey(unitID), content, c.cfg.LockStaleness).Result()
	if err != nil {
		return harvest.Busy, fmt.Errorf("setnx lock: %w", err)
	}
	if !ok {
		c.logger.Debug("unit locked by another worker", zap.String("unit_id", unitID))
		return harvest.Busy, nil
	}
	return harvest.Claimed, nil
}

// Release deletes the lock key; a missing key is not an error.
func (c *Coordinator) Release(ctx context.Context, unitID string) error {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.lockKey(unitID)).Err(); err != nil {
		return fmt.Errorf("del lock: %w", err)
	}
	return nil
}

// MarkComplete writes the permanent completion key.
func (c *Coordinator) MarkComplete(ctx context.Context, unitID string) error {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.doneKey(unitID), c.clock.Now().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("set done key: %w", err)
	}
	return nil
}

// Inspect reports the lock holder and its age derived from the remaining TTL.
func (c *Coordinator) Inspect(ctx context.Context, unitID string) (harvest.LockState, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return harvest.LockState{}, err
	}
	owner, err := c.client.Get(ctx, c.lockKey(unitID)).Result()
	if errors.Is(err, goredis.Nil) {
		return harvest.LockState{}, nil
	}
	if err != nil {
		return harvest.LockState{}, fmt.Errorf("get lock: %w", err)
	}
	ttl, err := c.client.PTTL(ctx, c.lockKey(unitID)).Result()
	if err != nil {
		return harvest.LockState{}, fmt.Errorf("pttl lock: %w", err)
	}
	state := harvest.LockState{Held: true, Owner: owner}
	if ttl > 0 {
		state.Age = c.cfg.LockStaleness - ttl
	}
	return state, nil
}
