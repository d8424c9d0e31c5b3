package harvest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeAcknowledge(t *testing.T) {
	t.Parallel()

	acked := map[Outcome]bool{
		OutcomeSuccessCompleted: true,
		OutcomeSkippedCompleted: true,
		OutcomeIncomplete:       false,
		OutcomeSkippedLocked:    false,
		OutcomeFailedLockError:  false,
		OutcomeFailedSaveError:  false,
	}
	for outcome, want := range acked {
		assert.Equal(t, want, outcome.Acknowledge(), string(outcome))
	}
	assert.Equal(t, "INCOMPLETE: 1234", OutcomeIncomplete.Status("1234"))
}

func TestValidateUnit(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateUnit("1234567"))
	for _, bad := range []string{"", "  ", "../etc", "a/b", `a\b`} {
		err := ValidateUnit(bad)
		assert.True(t, errors.Is(err, ErrInvalidUnit), "expected ErrInvalidUnit for %q", bad)
	}
}

func TestClaimResultString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "claimed", Claimed.String())
	assert.Equal(t, "busy", Busy.String())
	assert.Equal(t, "already_done", AlreadyDone.String())
	assert.Equal(t, "unknown", ClaimResult(42).String())
}
