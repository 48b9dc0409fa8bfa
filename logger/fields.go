package logger

import "go.uber.org/zap"

// Standard field names for consistent structured logging across Folio.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldOperationID = "operation_id"
	FieldKind        = "kind"

	// Components
	FieldComponent = "component"

	// Progress
	FieldProcessed = "processed_items"
	FieldFailed    = "failed_items"
	FieldTotal     = "total_items"

	// Status
	FieldStatus = "status"

	// Errors
	FieldError = "error"

	// Counts and timing
	FieldCount      = "count"
	FieldDurationMS = "duration_ms"
)

// WithOperation returns a logger with the operation id field pre-configured.
func WithOperation(log *zap.SugaredLogger, operationID string) *zap.SugaredLogger {
	return log.With(FieldOperationID, operationID)
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(log *zap.SugaredLogger, component string) *zap.SugaredLogger {
	return log.With(FieldComponent, component)
}
