// Package harvest defines the core types shared by the harvesting subsystems.
package harvest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidUnit is returned when a unit identifier cannot be mapped onto storage paths.
var ErrInvalidUnit = errors.New("invalid unit id")

// Record is one harvested review as persisted in the checkpoint log.
type Record struct {
	AuthorID   *string `json:"author_id"`
	Body       *string `json:"body"`
	VisitCount *int    `json:"visit_count"`
	VisitTime  *string `json:"visit_time"`
	Cursor     string  `json:"cursor"`
}

// Outcome is the greppable per-unit status emitted by the processor.
type Outcome string

// Outcome values, rendered as `<OUTCOME>: <unit>` in logs.
const (
	OutcomeSuccessCompleted Outcome = "SUCCESS_COMPLETED"
	OutcomeIncomplete       Outcome = "INCOMPLETE"
	OutcomeSkippedLocked    Outcome = "SKIPPED_LOCKED"
	OutcomeSkippedCompleted Outcome = "SKIPPED_COMPLETED"
	OutcomeFailedLockError  Outcome = "FAILED_LOCK_ERROR"
	OutcomeFailedSaveError  Outcome = "FAILED_SAVE_ERROR"
)

// Acknowledge reports whether the queue message should be removed for this outcome.
func (o Outcome) Acknowledge() bool {
	return o == OutcomeSuccessCompleted || o == OutcomeSkippedCompleted
}

// Status renders the outcome for a unit.
func (o Outcome) Status(unitID string) string {
	return fmt.Sprintf("%s: %s", o, unitID)
}

// Signal is the terminal state of one pagination run.
type Signal string

// Pagination signals.
const (
	// SignalExhausted means upstream returned an empty page: no more data exists.
	SignalExhausted Signal = "exhausted"
	// SignalPaused means the run stopped early and may be resumed later.
	SignalPaused Signal = "paused"
)

// HarvestResult is returned by a Harvester run.
type HarvestResult struct {
	Records    []Record
	Signal     Signal
	Pages      int
	LastCursor string
	Reason     string
}

// ClaimResult is the answer of a claim attempt.
type ClaimResult int

// Claim results.
const (
	Claimed ClaimResult = iota
	Busy
	AlreadyDone
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case Busy:
		return "busy"
	case AlreadyDone:
		return "already_done"
	default:
		return "unknown"
	}
}

// LockState describes the lock marker of a unit.
type LockState struct {
	Held  bool
	Age   time.Duration
	Owner string
}

// Message is one item received from the work queue.
type Message struct {
	Body          string
	ReceiptHandle string
}

// OutcomeEvent is published for every processed unit.
type OutcomeEvent struct {
	UnitID          string    `json:"unit_id"`
	Outcome         Outcome   `json:"outcome"`
	RecordsAppended int       `json:"records_appended"`
	Pages           int       `json:"pages"`
	LastCursor      string    `json:"last_cursor,omitempty"`
	WorkerID        string    `json:"worker_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationMs      int64     `json:"duration_ms"`
	ErrorText       string    `json:"error_text,omitempty"`
}

// ValidateUnit rejects identifiers that are empty or could escape a storage directory.
func ValidateUnit(unitID string) error {
	switch {
	case strings.TrimSpace(unitID) == "":
		return fmt.Errorf("%w: empty", ErrInvalidUnit)
	case strings.ContainsAny(unitID, `/\`), strings.Contains(unitID, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidUnit, unitID)
	}
	return nil
}
