package ops

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliolabs/folio/internal/util"
)

func TestNewOperation(t *testing.T) {
	op, err := NewOperation("refresh_index", util.Ptr(40))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(op.ID, "refresh_index-"), "id should carry the kind prefix: %s", op.ID)
	assert.Len(t, strings.TrimPrefix(op.ID, "refresh_index-"), 8)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, 40, *op.TotalItems)
	assert.Equal(t, 0, op.ProcessedItems)
	assert.Nil(t, op.StartedAt)
	assert.Nil(t, op.CompletedAt)
	assert.False(t, op.CreatedAt.IsZero())
	assert.Equal(t, op.CreatedAt, op.UpdatedAt)
}

func TestNewOperationUnknownTotal(t *testing.T) {
	op, err := NewOperation("import_folder", nil)
	require.NoError(t, err)
	assert.Nil(t, op.TotalItems)
	assert.Equal(t, float64(0), op.Percentage())
}

func TestNewOperationValidation(t *testing.T) {
	_, err := NewOperation("", nil)
	assert.Error(t, err)

	_, err = NewOperation("refresh_index", util.Ptr(-1))
	assert.Error(t, err)
}

func TestNewOperationIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		op, err := NewOperation("refresh_index", nil)
		require.NoError(t, err)
		assert.False(t, seen[op.ID], "duplicate id %s", op.ID)
		seen[op.ID] = true
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusRunning, false},
		{StatusCancelled, StatusRunning, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.ok, canTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("pending"))
	assert.True(t, IsValidStatus("cancelled"))
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))
}

func TestPercentage(t *testing.T) {
	op := &Operation{TotalItems: util.Ptr(40), ProcessedItems: 10}
	assert.InDelta(t, 25.0, op.Percentage(), 0.001)

	op.TotalItems = util.Ptr(0)
	assert.Equal(t, float64(0), op.Percentage())
}

func TestProgressUpdateApply(t *testing.T) {
	op, err := NewOperation("refresh_index", util.Ptr(10))
	require.NoError(t, err)

	update := ProgressUpdate{
		ProcessedItems: util.Ptr(3),
		FailedItems:    util.Ptr(1),
		CurrentItem:    util.Ptr("notes/alpha.md"),
	}
	require.NoError(t, update.apply(op, time.Now()))

	assert.Equal(t, 3, op.ProcessedItems)
	assert.Equal(t, 1, op.FailedItems)
	assert.Equal(t, "notes/alpha.md", op.CurrentItem)

	// Partial update leaves unset fields alone
	require.NoError(t, ProgressUpdate{ProcessedItems: util.Ptr(5)}.apply(op, time.Now()))
	assert.Equal(t, 5, op.ProcessedItems)
	assert.Equal(t, 1, op.FailedItems)
	assert.Equal(t, "notes/alpha.md", op.CurrentItem)
}

func TestProgressUpdateApplyIsIdempotent(t *testing.T) {
	op, err := NewOperation("refresh_index", util.Ptr(10))
	require.NoError(t, err)

	update := ProgressUpdate{ProcessedItems: util.Ptr(4), FailedItems: util.Ptr(2)}
	require.NoError(t, update.apply(op, time.Now()))
	require.NoError(t, update.apply(op, time.Now()))

	// Absolute counts, so a redelivered report does not double-count
	assert.Equal(t, 4, op.ProcessedItems)
	assert.Equal(t, 2, op.FailedItems)
}

func TestProgressUpdateApplyValidation(t *testing.T) {
	op, err := NewOperation("refresh_index", util.Ptr(10))
	require.NoError(t, err)

	assert.Error(t, ProgressUpdate{ProcessedItems: util.Ptr(-1)}.apply(op, time.Now()))
	assert.Error(t, ProgressUpdate{ProcessedItems: util.Ptr(11)}.apply(op, time.Now()))
	assert.Error(t, ProgressUpdate{FailedItems: util.Ptr(-2)}.apply(op, time.Now()))

	// Failed validation leaves the operation untouched
	assert.Equal(t, 0, op.ProcessedItems)
	assert.Equal(t, 0, op.FailedItems)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	op, err := NewOperation("refresh_index", nil)
	require.NoError(t, err)

	past := op.UpdatedAt.Add(-time.Hour)
	op.touch(past)
	assert.False(t, op.UpdatedAt.Before(op.CreatedAt))
}
