package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var _ harvest.OutcomeSink = (*Ledger)(nil)

func strPtr(s string) *string { return &s }

func TestRecordOutcomeInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1_700_000_000, 0).UTC()
	event := harvest.OutcomeEvent{
		UnitID:          "1234",
		Outcome:         harvest.OutcomeIncomplete,
		RecordsAppended: 50,
		Pages:           1,
		LastCursor:      "c50",
		WorkerID:        "w-1",
		StartedAt:       started,
		FinishedAt:      started.Add(3 * time.Second),
		DurationMs:      3000,
	}

	mock.ExpectExec("INSERT INTO unit_outcomes").
		WithArgs(
			"1234",
			"INCOMPLETE",
			50,
			1,
			strPtr("c50"),
			"w-1",
			event.StartedAt,
			event.FinishedAt,
			int64(3000),
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, ledger.RecordOutcome(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcomeErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "outcomes")
	require.NoError(t, err)

	require.Error(t, ledger.RecordOutcome(context.Background(), harvest.OutcomeEvent{}))

	mock.ExpectExec("INSERT INTO outcomes").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection reset"))
	err = ledger.RecordOutcome(context.Background(), harvest.OutcomeEvent{UnitID: "1"})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())

	var nilLedger *Ledger
	require.Error(t, nilLedger.RecordOutcome(context.Background(), harvest.OutcomeEvent{UnitID: "1"}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "unit_outcomes")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS unit_outcomes").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, ledger.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ledger, err := NewLedgerWithPool(mock, "")
	require.NoError(t, err)

	finished := time.Unix(1_700_000_100, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"unit_id", "outcome", "records_appended", "pages", "last_cursor", "worker_id",
		"started_at", "finished_at", "duration_ms", "error_text",
	}).
		AddRow("1234", "SUCCESS_COMPLETED", 3, 2, "c3", "w-2", finished.Add(-time.Minute), finished, int64(60000), "").
		AddRow("1234", "INCOMPLETE", 50, 1, "c50", "w-1", finished.Add(-time.Hour), finished.Add(-59*time.Minute), int64(60000), "rate limited twice in a row")

	mock.ExpectQuery("SELECT unit_id, outcome").WithArgs("1234", 20).WillReturnRows(rows)

	events, err := ledger.History(context.Background(), "1234", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, harvest.OutcomeSuccessCompleted, events[0].Outcome)
	assert.Equal(t, "rate limited twice in a row", events[1].ErrorText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLedger(context.Background(), LedgerConfig{})
	require.Error(t, err)
	_, err = NewLedger(context.Background(), LedgerConfig{DSN: "postgres://x", Table: "bad;name"})
	require.Error(t, err)
	_, err = NewLedgerWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewLedgerWithPool(mock, "drop table")
	require.Error(t, err)
}
