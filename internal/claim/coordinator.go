// Package claim coordinates workers over a shared filesystem.
//
// A unit is locked by atomically creating <lock_dir>/<unit>.LOCKED and is
// finished for good once <marker_dir>/<unit>.COMPLETED exists. There is no
// heartbeat: a lock whose mtime is older than the staleness timeout belongs to
// a dead worker and may be taken over, which bounds duplicate work to that
// window.
package claim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const (
	lockSuffix   = ".LOCKED"
	markerSuffix = ".COMPLETED"
)

// Config controls marker locations and lock expiry.
type Config struct {
	LockDir       string
	MarkerDir     string
	LockStaleness time.Duration
	OwnerID       string
}

// Coordinator implements harvest.Claimer on top of lock and marker files.
type Coordinator struct {
	cfg    Config
	clock  harvest.Clock
	logger *zap.Logger

	// test hook, runs after a lock is judged stale
	beforeTakeover func(lockPath string)
}

// New creates a Coordinator, creating both marker directories.
func New(cfg Config, clock harvest.Clock, logger *zap.Logger) (*Coordinator, error) {
	if strings.TrimSpace(cfg.LockDir) == "" || strings.TrimSpace(cfg.MarkerDir) == "" {
		return nil, fmt.Errorf("lock and marker directories are required")
	}
	if cfg.LockStaleness <= 0 {
		return nil, fmt.Errorf("lock staleness must be > 0")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	for _, dir := range []string{cfg.LockDir, cfg.MarkerDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, clock: clock, logger: logger}, nil
}

// LockPath returns the lock marker of a unit.
func (c *Coordinator) LockPath(unitID string) string {
	return filepath.Join(c.cfg.LockDir, unitID+lockSuffix)
}

// MarkerPath returns the completion marker of a unit.
func (c *Coordinator) MarkerPath(unitID string) string {
	return filepath.Join(c.cfg.MarkerDir, unitID+markerSuffix)
}

// IsComplete reports whether the unit's completion marker exists.
func (c *Coordinator) IsComplete(_ context.Context, unitID string) (bool, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return false, err
	}
	return exists(c.MarkerPath(unitID))
}

// TryClaim attempts to take the unit's lock.
//
// A completion marker wins over any lock and yields AlreadyDone. A live lock
// yields Busy. A stale lock is removed before the atomic create-if-absent, and
// losing that create race also yields Busy.
func (c *Coordinator) TryClaim(ctx context.Context, unitID string) (harvest.ClaimResult, error) {
	done, err := c.IsComplete(ctx, unitID)
	if err != nil {
		return harvest.Busy, fmt.Errorf("check completion marker: %w", err)
	}
	if done {
		return harvest.AlreadyDone, nil
	}

	lockPath := c.LockPath(unitID)
	info, err := os.Stat(lockPath)
	switch {
	case err == nil:
		age := c.clock.Now().Sub(info.ModTime())
		if age < c.cfg.LockStaleness {
			c.logger.Debug("unit locked by another worker",
				zap.String("unit_id", unitID),
				zap.Duration("lock_age", age),
			)
			return harvest.Busy, nil
		}
		c.logger.Warn("lock exceeded staleness timeout; taking over",
			zap.String("unit_id", unitID),
			zap.Duration("lock_age", age),
			zap.Duration("staleness", c.cfg.LockStaleness),
		)
		if c.beforeTakeover != nil {
			c.beforeTakeover(lockPath)
		}
		ok, err := c.removeStale(lockPath, info)
		if err != nil {
			return harvest.Busy, err
		}
		if !ok {
			c.logger.Debug("stale lock replaced by another worker", zap.String("unit_id", unitID))
			return harvest.Busy, nil
		}
		metrics.ObserveLockTakeover()
	case errors.Is(err, os.ErrNotExist):
	default:
		return harvest.Busy, fmt.Errorf("stat lock: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			c.logger.Debug("lost lock race", zap.String("unit_id", unitID))
			return harvest.Busy, nil
		}
		return harvest.Busy, fmt.Errorf("create lock: %w", err)
	}
	content := fmt.Sprintf("Locked by %s (pid %d) at %d", c.cfg.OwnerID, os.Getpid(), c.clock.Now().Unix())
	if _, err := f.WriteString(content); err != nil {
		c.logger.Warn("write lock owner failed", zap.String("unit_id", unitID), zap.Error(err))
	}
	if err := f.Close(); err != nil {
		c.logger.Warn("close lock failed", zap.String("unit_id", unitID), zap.Error(err))
	}
	return harvest.Claimed, nil
}

// removeStale moves the stale lock aside under a unique name before deleting
// it, so a lock another worker re-created in the meantime is never removed.
// It reports false when the moved file was not the stale lock; that lock is
// put back.
func (c *Coordinator) removeStale(lockPath string, stale os.FileInfo) (bool, error) {
	tomb := fmt.Sprintf("%s.stale.%d.%d", lockPath, os.Getpid(), c.clock.Now().UnixNano())
	if err := os.Rename(lockPath, tomb); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("move stale lock: %w", err)
	}
	moved, err := os.Stat(tomb)
	if err != nil {
		return false, fmt.Errorf("stat moved lock: %w", err)
	}
	if os.SameFile(moved, stale) && moved.ModTime().Equal(stale.ModTime()) {
		if err := os.Remove(tomb); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("remove stale lock: %w", err)
		}
		return true, nil
	}
	// Link fails if yet another lock appeared; either way a live lock stays.
	if err := os.Link(tomb, lockPath); err != nil && !errors.Is(err, os.ErrExist) {
		c.logger.Warn("restore live lock failed", zap.String("lock", lockPath), zap.Error(err))
	}
	if err := os.Remove(tomb); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove moved lock failed", zap.String("lock", tomb), zap.Error(err))
	}
	return false, nil
}

// Release removes the unit's lock. Removing an absent lock is not an error.
func (c *Coordinator) Release(_ context.Context, unitID string) error {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return err
	}
	if err := os.Remove(c.LockPath(unitID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// MarkComplete creates the zero-byte completion marker. It is idempotent.
func (c *Coordinator) MarkComplete(_ context.Context, unitID string) error {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return err
	}
	f, err := os.OpenFile(c.MarkerPath(unitID), os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create completion marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close completion marker: %w", err)
	}
	return nil
}

// Inspect reports the current lock marker of a unit.
func (c *Coordinator) Inspect(_ context.Context, unitID string) (harvest.LockState, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return harvest.LockState{}, err
	}
	lockPath := c.LockPath(unitID)
	info, err := os.Stat(lockPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return harvest.LockState{}, nil
		}
		return harvest.LockState{}, fmt.Errorf("stat lock: %w", err)
	}
	owner, err := os.ReadFile(lockPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return harvest.LockState{}, fmt.Errorf("read lock: %w", err)
	}
	return harvest.LockState{
		Held:  true,
		Age:   c.clock.Now().Sub(info.ModTime()),
		Owner: string(owner),
	}, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
