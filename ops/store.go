package ops

import (
	"database/sql"
	"sync"
	"time"

	"github.com/foliolabs/folio/errors"
)

// Store handles persistence of operation records
type Store struct {
	db *sql.DB

	// Per-id mutexes serialize read-modify-write cycles on the same record.
	// Writes to distinct ids proceed independently.
	locks sync.Map // id -> *sync.Mutex
}

// NewStore creates a new operation store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create inserts a new operation record
func (s *Store) Create(op *Operation) error {
	query := `
		INSERT INTO operations (
			id, kind, status,
			total_items, processed_items, failed_items,
			current_item, result, error,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, writeArgs(op)...)
	if err != nil {
		return errors.Wrapf(err, "failed to create operation %s", op.ID)
	}

	return nil
}

// Get retrieves an operation by id
func (s *Store) Get(id string) (*Operation, error) {
	query := `SELECT ` + StandardOperationSelectColumns() + ` FROM operations WHERE id = ?`

	op, err := s.getRow(s.db.QueryRow(query, id), id)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// getRow scans a single operation, mapping sql.ErrNoRows to ErrNotFound
func (s *Store) getRow(row *sql.Row, id string) (*Operation, error) {
	var op Operation
	args := GetOperationScanArgs()
	targets := GetOperationScanTargets(&op, args)

	err := row.Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "operation %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get operation %s", id)
	}

	ProcessOperationScanArgs(&op, args)
	return &op, nil
}

// MergeUpdate atomically applies merge to the current persisted state of the
// operation and writes back the result. The whole cycle runs inside a
// transaction under a per-id mutex, so no concurrent update of the same
// record can interleave between the read and the write.
//
// An error returned by merge aborts the update with no partial effects and
// is returned unwrapped to the caller.
func (s *Store) MergeUpdate(id string, merge func(*Operation) error) (*Operation, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `SELECT ` + StandardOperationSelectColumns() + ` FROM operations WHERE id = ?`
	op, err := s.getRow(tx.QueryRow(query, id), id)
	if err != nil {
		return nil, err
	}

	if err := merge(op); err != nil {
		return nil, err
	}

	update := `
		UPDATE operations
		SET kind = ?,
		    status = ?,
		    total_items = ?,
		    processed_items = ?,
		    failed_items = ?,
		    current_item = ?,
		    result = ?,
		    error = ?,
		    created_at = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	args := writeArgs(op)
	// writeArgs puts id first for INSERT; UPDATE wants it last
	args = append(args[1:], args[0])

	if _, err := tx.Exec(update, args...); err != nil {
		return nil, errors.Wrapf(err, "failed to update operation %s", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit update of operation %s", id)
	}

	return op, nil
}

// List returns operations newest-first, optionally filtered by status
func (s *Store) List(status *Status, limit int) ([]*Operation, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardOperationSelectColumns() + ` FROM operations`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list operations")
	}
	defer rows.Close()

	return scanOperations(rows, "operations")
}

// ListRunning returns every operation currently in the running status.
// Used by startup reconciliation, so no limit applies.
func (s *Store) ListRunning() ([]*Operation, error) {
	query := `SELECT ` + StandardOperationSelectColumns() + `
		FROM operations
		WHERE status = 'running'
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running operations")
	}
	defer rows.Close()

	return scanOperations(rows, "running operations")
}

// scanOperations is a helper that scans multiple operations from query rows
func scanOperations(rows *sql.Rows, context string) ([]*Operation, error) {
	var operations []*Operation
	for rows.Next() {
		var op Operation
		if err := ScanOperationFromRows(rows, &op); err != nil {
			return nil, errors.Wrap(err, "failed to scan operation")
		}
		operations = append(operations, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return operations, nil
}

// DeleteTerminalBefore removes terminal operations whose completion timestamp
// is older than the cutoff. Pending and running records are never touched.
func (s *Store) DeleteTerminalBefore(cutoff time.Time) (int, error) {
	query := `
		DELETE FROM operations
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old operations")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// CountByStatus returns the number of operations per status
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM operations GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count operations")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan operation count")
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating operation counts")
	}

	return counts, nil
}

// writeArgs returns the exec arguments for an operation in INSERT column
// order, id first
func writeArgs(op *Operation) []interface{} {
	var totalItems sql.NullInt64
	if op.TotalItems != nil {
		totalItems = sql.NullInt64{Int64: int64(*op.TotalItems), Valid: true}
	}
	currentItem := sql.NullString{String: op.CurrentItem, Valid: op.CurrentItem != ""}
	result := sql.NullString{String: string(op.Result), Valid: len(op.Result) > 0}
	errorMsg := sql.NullString{String: op.Error, Valid: op.Error != ""}

	return []interface{}{
		op.ID,
		op.Kind,
		op.Status,
		totalItems,
		op.ProcessedItems,
		op.FailedItems,
		currentItem,
		result,
		errorMsg,
		op.CreatedAt,
		op.StartedAt,
		op.CompletedAt,
		op.UpdatedAt,
	}
}
