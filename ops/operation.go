// Package ops tracks long-running operations for Folio.
//
// An operation is a unit of work whose duration is unbounded: callers create
// one, receive an id immediately, and poll for progress while the work runs
// off their path. The package is built from four pieces: the Store persists
// operation records in SQLite, the Manager owns every status transition, the
// Runner executes producers on a bounded pool, and the Sweeper purges old
// terminal records.
package ops

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/foliolabs/folio/errors"
)

// Status represents the current state of an operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that permit no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition reports whether the status state machine permits from -> to.
//
//	pending -> running | cancelled
//	running -> completed | failed | cancelled
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Operation is one record of long-running work.
//
// The Manager is the sole writer of a record; producers mutate state only
// indirectly through Manager calls. Once a record reaches a terminal status
// its status, result and error never change again (deletion by the Sweeper
// aside).
type Operation struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"` // identifies the producer type, e.g. "refresh_index"
	Status         Status          `json:"status"`
	TotalItems     *int            `json:"total_items,omitempty"` // nil when unknown at creation
	ProcessedItems int             `json:"processed_items"`
	FailedItems    int             `json:"failed_items"`
	CurrentItem    string          `json:"current_item,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"` // set only on completed
	Error          string          `json:"error,omitempty"`  // set only on failed
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewOperation creates a pending operation record for the given kind.
// The id is the caller-visible handle, formatted as "<kind>-<8 hex chars>".
func NewOperation(kind string, totalItems *int) (*Operation, error) {
	if kind == "" {
		return nil, errors.New("kind cannot be empty")
	}
	if totalItems != nil && *totalItems < 0 {
		return nil, errors.Newf("total_items cannot be negative: %d", *totalItems)
	}

	u := uuid.New()
	now := time.Now()
	return &Operation{
		ID:         kind + "-" + u.String()[:8],
		Kind:       kind,
		Status:     StatusPending,
		TotalItems: totalItems,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Terminal returns true once the operation permits no further transition.
func (o *Operation) Terminal() bool {
	return o.Status.Terminal()
}

// Percentage calculates progress as a percentage (0-100).
// Returns 0 when the total is unknown.
func (o *Operation) Percentage() float64 {
	if o.TotalItems == nil || *o.TotalItems == 0 {
		return 0
	}
	return float64(o.ProcessedItems) / float64(*o.TotalItems) * 100
}

// markStarted moves the operation to running
func (o *Operation) markStarted(now time.Time) {
	o.Status = StatusRunning
	o.StartedAt = &now
	o.touch(now)
}

// markCompleted moves the operation to completed with its result payload
func (o *Operation) markCompleted(result json.RawMessage, now time.Time) {
	o.Status = StatusCompleted
	o.Result = result
	o.CompletedAt = &now
	o.touch(now)
}

// markFailed moves the operation to failed with a human-readable summary
func (o *Operation) markFailed(summary string, now time.Time) {
	o.Status = StatusFailed
	o.Error = summary
	o.CompletedAt = &now
	o.touch(now)
}

// markCancelled moves the operation to cancelled
func (o *Operation) markCancelled(now time.Time) {
	o.Status = StatusCancelled
	o.CompletedAt = &now
	o.touch(now)
}

// touch bumps updated_at, clamped so it never moves backwards even if the
// wall clock does
func (o *Operation) touch(now time.Time) {
	if now.Before(o.UpdatedAt) {
		now = o.UpdatedAt
	}
	o.UpdatedAt = now
}

// ProgressUpdate carries a partial progress report from a producer.
// Nil fields are left untouched by the merge; counts are absolute values,
// so re-applying an identical update is a no-op.
type ProgressUpdate struct {
	ProcessedItems *int
	FailedItems    *int
	CurrentItem    *string
}

// apply merges the update into the operation. Counts are validated against
// the known total so processed_items never exceeds total_items.
func (u ProgressUpdate) apply(o *Operation, now time.Time) error {
	if u.ProcessedItems != nil {
		if *u.ProcessedItems < 0 {
			return errors.Newf("processed_items cannot be negative: %d", *u.ProcessedItems)
		}
		if o.TotalItems != nil && *u.ProcessedItems > *o.TotalItems {
			return errors.Newf("processed_items %d exceeds total_items %d", *u.ProcessedItems, *o.TotalItems)
		}
		o.ProcessedItems = *u.ProcessedItems
	}
	if u.FailedItems != nil {
		if *u.FailedItems < 0 {
			return errors.Newf("failed_items cannot be negative: %d", *u.FailedItems)
		}
		o.FailedItems = *u.FailedItems
	}
	if u.CurrentItem != nil {
		o.CurrentItem = *u.CurrentItem
	}
	o.touch(now)
	return nil
}

// empty reports whether the update carries no fields at all
func (u ProgressUpdate) empty() bool {
	return u.ProcessedItems == nil && u.FailedItems == nil && u.CurrentItem == nil
}
