// Package checkpoint implements the append-only per-unit record log.
//
// Each unit owns one JSONL file. Records are only ever appended, so the last
// complete line always holds the cursor to resume from. A worker killed in the
// middle of a write can leave a torn final line; LastCursor discards it and
// falls back to the line before.
package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

const (
	defaultChunkSize = 1024
	logSuffix        = "_reviews.jsonl"
)

// Config captures where checkpoint logs live.
type Config struct {
	// Dir is the directory holding one log file per unit.
	Dir string `mapstructure:"dir"`
	// ChunkSize is the number of bytes read per step of the backward tail scan.
	ChunkSize int `mapstructure:"chunk_size"`
}

// Store reads and appends checkpoint logs on a (possibly shared) filesystem.
type Store struct {
	dir       string
	chunkSize int
	logger    *zap.Logger
}

// New creates a Store rooted at cfg.Dir, creating the directory when missing.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir %s: %w", cfg.Dir, err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:       cfg.Dir,
		chunkSize: cfg.ChunkSize,
		logger:    logger,
	}, nil
}

// Path returns the log file of a unit.
func (s *Store) Path(unitID string) string {
	return filepath.Join(s.dir, unitID+logSuffix)
}

// Append writes records to the end of the unit's log in the given order.
// Prior bytes are never rewritten. Appending zero records is a no-op.
func (s *Store) Append(ctx context.Context, unitID string, records []harvest.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := harvest.ValidateUnit(unitID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if rec.Cursor == "" {
			return fmt.Errorf("record %d for unit %s has no cursor", i, unitID)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}

	path := s.Path(unitID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append checkpoint %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync checkpoint %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", path, err)
	}
	return nil
}

// LastCursor returns the cursor of the last complete record in the unit's log.
// found is false when the log is missing, empty or unreadable as JSON; callers
// then start from the beginning.
func (s *Store) LastCursor(ctx context.Context, unitID string) (string, bool, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("context canceled: %w", err)
	}
	path := s.Path(unitID)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("stat checkpoint %s: %w", path, err)
	}
	if info.Size() == 0 {
		return "", false, nil
	}

	// The newest line plus one more, so a torn final write can be skipped.
	lines, err := tailLines(f, info.Size(), s.chunkSize, 2)
	if err != nil {
		return "", false, fmt.Errorf("scan checkpoint %s: %w", path, err)
	}
	for i := len(lines) - 1; i >= 0; i-- {
		var rec harvest.Record
		if err := json.Unmarshal(lines[i], &rec); err != nil {
			s.logger.Warn("discarding unreadable checkpoint line",
				zap.String("unit_id", unitID),
				zap.Int("lines_from_end", len(lines)-1-i),
				zap.Error(err),
			)
			continue
		}
		if rec.Cursor == "" {
			return "", false, nil
		}
		return rec.Cursor, true, nil
	}
	return "", false, nil
}

// Count returns the number of non-blank lines in the unit's log.
func (s *Store) Count(ctx context.Context, unitID string) (int, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return 0, err
	}
	f, err := os.Open(s.Path(unitID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, fmt.Errorf("context canceled: %w", err)
		}
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			count++
		}
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read checkpoint: %w", err)
		}
	}
}

// Open returns a reader over the unit's log, used to archive finished units.
func (s *Store) Open(_ context.Context, unitID string) (io.ReadCloser, error) {
	if err := harvest.ValidateUnit(unitID); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(unitID))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	return f, nil
}
