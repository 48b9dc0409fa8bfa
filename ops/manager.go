package ops

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foliolabs/folio/errors"
	"github.com/foliolabs/folio/logger"
)

// Manager owns the operation lifecycle. Every status transition goes through
// it, so the state machine rules live in exactly one place:
//
//	pending -> running -> completed | failed | cancelled
//	pending -> cancelled
//
// Reports that arrive after a record has reached a terminal status are
// dropped rather than rejected: producers deliver progress asynchronously
// and a late packet after a cancel is normal, not a bug.
type Manager struct {
	store *Store
	log   *zap.SugaredLogger

	// runningTimeout bounds how long a record may sit in running before
	// startup reconciliation declares its worker dead
	runningTimeout time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewManager creates an operation manager and reconciles orphaned records.
// Any record still marked running from a previous process whose started_at
// is older than runningTimeout is failed, since no worker can be alive to
// finish it.
func NewManager(store *Store, runningTimeout time.Duration, log *zap.SugaredLogger) (*Manager, error) {
	if log == nil {
		log = logger.Logger
	}

	m := &Manager{
		store:          store,
		log:            log.Named("ops.manager"),
		runningTimeout: runningTimeout,
		cancels:        make(map[string]context.CancelFunc),
	}

	reconciled, err := m.reconcile()
	if err != nil {
		return nil, errors.Wrap(err, "failed to reconcile orphaned operations")
	}
	if reconciled > 0 {
		m.log.Infow("Reconciled orphaned operations",
			logger.FieldCount, reconciled)
	}

	return m, nil
}

// reconcile fails running records whose worker cannot still exist.
// Records younger than the timeout are left alone; their workers may have
// died too, but a long-running producer launched just before a crash looks
// the same as one still making progress, so we give it the benefit of the
// window.
func (m *Manager) reconcile() (int, error) {
	running, err := m.store.ListRunning()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-m.runningTimeout)
	reconciled := 0
	for _, op := range running {
		if op.StartedAt == nil || op.StartedAt.After(cutoff) {
			continue
		}

		_, err := m.store.MergeUpdate(op.ID, func(cur *Operation) error {
			if cur.Status != StatusRunning {
				return errors.ErrInvalidState
			}
			cur.markFailed("operation timed out: worker did not survive restart", time.Now())
			return nil
		})
		if errors.Is(err, errors.ErrInvalidState) || errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return reconciled, err
		}

		m.log.Warnw("Failed orphaned operation",
			logger.FieldOperationID, op.ID,
			logger.FieldKind, op.Kind,
			"started_at", op.StartedAt)
		reconciled++
	}

	return reconciled, nil
}

// Create records a new pending operation and returns it
func (m *Manager) Create(kind string, totalItems *int) (*Operation, error) {
	op, err := NewOperation(kind, totalItems)
	if err != nil {
		return nil, err
	}

	if err := m.store.Create(op); err != nil {
		return nil, err
	}

	m.log.Infow("Created operation",
		logger.FieldOperationID, op.ID,
		logger.FieldKind, kind)

	return op, nil
}

// Get retrieves an operation by id
func (m *Manager) Get(id string) (*Operation, error) {
	return m.store.Get(id)
}

// List returns operations newest-first, optionally filtered by status
func (m *Manager) List(status *Status, limit int) ([]*Operation, error) {
	return m.store.List(status, limit)
}

// Start moves a pending operation to running.
// Returns ErrInvalidState if the operation is not pending.
func (m *Manager) Start(id string) (*Operation, error) {
	op, err := m.store.MergeUpdate(id, func(cur *Operation) error {
		if !canTransition(cur.Status, StatusRunning) {
			return errors.NewInvalidStatef("cannot start operation %s: status is %s", id, cur.Status)
		}
		cur.markStarted(time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Infow("Started operation",
		logger.FieldOperationID, id,
		logger.FieldKind, op.Kind)

	return op, nil
}

// UpdateProgress merges a partial progress report into a running operation.
//
// A report against a record that is no longer running is dropped silently:
// the producer that sent it raced a cancel or a restart, and its view of the
// world is simply stale. Unknown ids still return ErrNotFound.
func (m *Manager) UpdateProgress(id string, update ProgressUpdate) error {
	if update.empty() {
		return nil
	}

	_, err := m.store.MergeUpdate(id, func(cur *Operation) error {
		if cur.Status != StatusRunning {
			return errors.ErrInvalidState
		}
		return update.apply(cur, time.Now())
	})
	if errors.Is(err, errors.ErrInvalidState) {
		m.log.Debugw("Dropped stale progress report",
			logger.FieldOperationID, id)
		return nil
	}
	return err
}

// Complete moves a running operation to completed with its result payload.
// Returns ErrInvalidState if the operation is not running.
func (m *Manager) Complete(id string, result json.RawMessage) (*Operation, error) {
	op, err := m.store.MergeUpdate(id, func(cur *Operation) error {
		if !canTransition(cur.Status, StatusCompleted) {
			return errors.NewInvalidStatef("cannot complete operation %s: status is %s", id, cur.Status)
		}
		cur.markCompleted(result, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.unregisterCancel(id)

	m.log.Infow("Completed operation",
		logger.FieldOperationID, id,
		logger.FieldKind, op.Kind,
		logger.FieldProcessed, op.ProcessedItems,
		logger.FieldFailed, op.FailedItems)

	return op, nil
}

// Fail moves a running operation to failed with a human-readable summary.
// Returns ErrInvalidState if the operation is not running.
func (m *Manager) Fail(id string, summary string) (*Operation, error) {
	op, err := m.store.MergeUpdate(id, func(cur *Operation) error {
		if !canTransition(cur.Status, StatusFailed) {
			return errors.NewInvalidStatef("cannot fail operation %s: status is %s", id, cur.Status)
		}
		cur.markFailed(summary, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.unregisterCancel(id)

	m.log.Warnw("Failed operation",
		logger.FieldOperationID, id,
		logger.FieldKind, op.Kind,
		logger.FieldError, summary)

	return op, nil
}

// Cancel moves a pending or running operation to cancelled and signals its
// producer, if one is executing. Cancellation is cooperative: the producer
// observes the signal at its next check and winds down on its own schedule,
// but the record is terminal immediately.
func (m *Manager) Cancel(id string) (*Operation, error) {
	op, err := m.store.MergeUpdate(id, func(cur *Operation) error {
		if !canTransition(cur.Status, StatusCancelled) {
			return errors.NewInvalidStatef("cannot cancel operation %s: status is %s", id, cur.Status)
		}
		cur.markCancelled(time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	m.log.Infow("Cancelled operation",
		logger.FieldOperationID, id,
		logger.FieldKind, op.Kind)

	return op, nil
}

// Stats summarizes operation counts by status
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// Stats returns current operation counts by status
func (m *Manager) Stats() (*Stats, error) {
	counts, err := m.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Pending:   counts[StatusPending],
		Running:   counts[StatusRunning],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
		Cancelled: counts[StatusCancelled],
	}
	stats.Total = stats.Pending + stats.Running + stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// registerCancel associates a cancel function with an executing operation
// so Cancel can signal the producer
func (m *Manager) registerCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		cancel()
		return
	}
	m.cancels[id] = cancel
}

// unregisterCancel drops the cancel function once a producer finishes
func (m *Manager) unregisterCancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
}

// Close releases every registered cancel function. Records are left as they
// are; the next process reconciles whatever was still running.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, cancel := range m.cancels {
		cancel()
		delete(m.cancels, id)
	}
}
