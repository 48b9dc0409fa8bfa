package ops

import (
	"database/sql"
	"encoding/json"
)

// OperationScanArgs holds all the variables needed for scanning an operation
// from a database row. Nullable columns scan into sql.Null* first and are
// folded into the Operation afterwards.
type OperationScanArgs struct {
	TotalItems  sql.NullInt64
	CurrentItem sql.NullString
	Result      sql.NullString
	ErrorMsg    sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// GetOperationScanArgs returns an OperationScanArgs struct with all variables ready for scanning
func GetOperationScanArgs() *OperationScanArgs {
	return &OperationScanArgs{}
}

// GetOperationScanTargets returns a slice of interface{} pointers for the operation
// and scan args, in the order expected by the standard operation SELECT query
func GetOperationScanTargets(op *Operation, args *OperationScanArgs) []interface{} {
	return []interface{}{
		&op.ID,
		&op.Kind,
		&op.Status,
		&args.TotalItems,
		&op.ProcessedItems,
		&op.FailedItems,
		&args.CurrentItem,
		&args.Result,
		&args.ErrorMsg,
		&op.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&op.UpdatedAt,
	}
}

// ProcessOperationScanArgs processes the scanned arguments and populates the operation struct
func ProcessOperationScanArgs(op *Operation, args *OperationScanArgs) {
	if args.TotalItems.Valid {
		total := int(args.TotalItems.Int64)
		op.TotalItems = &total
	}
	if args.CurrentItem.Valid {
		op.CurrentItem = args.CurrentItem.String
	}
	if args.Result.Valid {
		op.Result = json.RawMessage(args.Result.String)
	}
	if args.ErrorMsg.Valid {
		op.Error = args.ErrorMsg.String
	}
	if args.StartedAt.Valid {
		op.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		op.CompletedAt = &args.CompletedAt.Time
	}
}

// ScanOperationFromRows scans a single operation from sql.Rows (for use in loops)
func ScanOperationFromRows(rows *sql.Rows, op *Operation) error {
	args := GetOperationScanArgs()
	targets := GetOperationScanTargets(op, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	ProcessOperationScanArgs(op, args)
	return nil
}

// StandardOperationSelectColumns returns the standard column list for operation SELECT queries
func StandardOperationSelectColumns() string {
	return `id, kind, status,
		total_items, processed_items, failed_items,
		current_item, result, error,
		created_at, started_at, completed_at, updated_at`
}
