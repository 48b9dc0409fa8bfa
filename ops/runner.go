package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foliolabs/folio/db"
	"github.com/foliolabs/folio/errors"
	"github.com/foliolabs/folio/logger"
)

// maxErrorSummaryLen bounds the error text persisted on a failed record.
// Full detail still goes to the log.
const maxErrorSummaryLen = 500

// Producer is the work function executed for an operation. It reports
// progress through the Progress handle and must watch ctx: when the
// operation is cancelled the context is cancelled, and the producer is
// expected to wind down at its next convenient point. The returned payload
// is stored as the operation result on success.
type Producer func(ctx context.Context, progress *Progress) (json.RawMessage, error)

// Progress is the reporting handle a producer uses to publish progress for
// its operation. Reports are merged into the record by the Manager; reports
// that arrive after the record went terminal are dropped, so producers never
// need to guard their own reporting against a racing cancel.
type Progress struct {
	manager *Manager
	id      string
	log     *zap.SugaredLogger
}

// Report merges a partial progress update into the operation record.
// Persistence failures are logged rather than returned; losing a progress
// tick does not endanger the work itself.
func (p *Progress) Report(update ProgressUpdate) {
	if err := p.manager.UpdateProgress(p.id, update); err != nil {
		if db.IsDatabaseClosed(err) {
			// Shutdown race: the producer outlived the database
			p.log.Debugw("Dropped progress report during shutdown",
				logger.FieldOperationID, p.id)
			return
		}
		p.log.Warnw("Failed to persist progress report",
			logger.FieldOperationID, p.id,
			logger.FieldError, err)
	}
}

// Item reports the item currently being processed
func (p *Progress) Item(name string) {
	p.Report(ProgressUpdate{CurrentItem: &name})
}

// Processed reports absolute processed and failed counts
func (p *Progress) Processed(processed, failed int) {
	p.Report(ProgressUpdate{ProcessedItems: &processed, FailedItems: &failed})
}

// Runner executes producers for operations on a bounded pool.
//
// Launch returns as soon as the operation record exists; execution happens
// on a goroutine gated by a semaphore sized to the configured worker count.
// At most one operation per kind is in flight at a time: launching a kind
// that already has a live operation returns that operation instead of
// creating a duplicate.
type Runner struct {
	manager *Manager
	log     *zap.SugaredLogger

	sem chan struct{}

	mu       sync.Mutex
	inflight map[string]string // kind -> operation id

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner executing at most workers producers concurrently
func NewRunner(manager *Manager, workers int, log *zap.SugaredLogger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		manager:  manager,
		log:      log.Named("ops.runner"),
		sem:      make(chan struct{}, workers),
		inflight: make(map[string]string),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Launch creates an operation for kind and schedules producer to run it.
// It returns the new pending operation immediately.
//
// If an operation of the same kind is already in flight, no new record is
// created and the existing operation is returned instead. Callers can
// detect this by comparing ids or checking the returned status.
func (r *Runner) Launch(kind string, totalItems *int, producer Producer) (*Operation, error) {
	if producer == nil {
		return nil, errors.New("producer cannot be nil")
	}

	r.mu.Lock()
	if existingID, ok := r.inflight[kind]; ok {
		r.mu.Unlock()
		existing, err := r.manager.Get(existingID)
		if err == nil {
			r.log.Debugw("Operation kind already in flight",
				logger.FieldKind, kind,
				logger.FieldOperationID, existingID)
			return existing, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
		// Record swept out from under the in-flight map; fall through and
		// launch fresh
		r.mu.Lock()
		delete(r.inflight, kind)
	}

	op, err := r.manager.Create(kind, totalItems)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.inflight[kind] = op.ID
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(op.ID, kind, producer)

	return op, nil
}

// run executes one producer, translating its outcome into the terminal
// transition for the operation
func (r *Runner) run(id, kind string, producer Producer) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if r.inflight[kind] == id {
			delete(r.inflight, kind)
		}
		r.mu.Unlock()
	}()

	// Wait for a worker slot. The record stays pending while queued, so a
	// cancel during the wait is still legal and observed below.
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-r.baseCtx.Done():
		return
	}

	if _, err := r.manager.Start(id); err != nil {
		// Cancelled while pending, or swept. Either way there is nothing
		// left to execute.
		if errors.IsInvalidState(err) || errors.IsNotFound(err) {
			r.log.Debugw("Skipping execution of operation",
				logger.FieldOperationID, id,
				logger.FieldError, err)
			return
		}
		r.log.Errorw("Failed to start operation",
			logger.FieldOperationID, id,
			logger.FieldError, err)
		return
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	defer cancel()
	r.manager.registerCancel(id, cancel)
	defer r.manager.unregisterCancel(id)

	progress := &Progress{manager: r.manager, id: id, log: r.log}

	started := time.Now()
	result, err := r.execute(ctx, id, producer, progress)
	elapsed := time.Since(started)

	if err != nil {
		if _, failErr := r.manager.Fail(id, summarizeError(err)); failErr != nil && !errors.IsInvalidState(failErr) {
			r.log.Errorw("Failed to record operation failure",
				logger.FieldOperationID, id,
				logger.FieldError, failErr)
		}
		r.log.Warnw("Operation producer returned error",
			logger.FieldOperationID, id,
			logger.FieldKind, kind,
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldError, err)
		return
	}

	if _, err := r.manager.Complete(id, result); err != nil && !errors.IsInvalidState(err) {
		r.log.Errorw("Failed to record operation completion",
			logger.FieldOperationID, id,
			logger.FieldError, err)
		return
	}

	r.log.Infow("Operation producer finished",
		logger.FieldOperationID, id,
		logger.FieldKind, kind,
		logger.FieldDurationMS, elapsed.Milliseconds())
}

// execute invokes the producer with panic recovery. A panicking producer
// fails its operation instead of taking the process down.
func (r *Runner) execute(ctx context.Context, id string, producer Producer, progress *Progress) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("producer panicked: %v", rec)
			r.log.Errorw("Operation producer panicked",
				logger.FieldOperationID, id,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	return producer(ctx, progress)
}

// InFlight reports whether an operation of the given kind is currently live
func (r *Runner) InFlight(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[kind]
	return ok
}

// Shutdown cancels every executing producer and waits up to timeout for
// them to wind down. Producers that do not return in time are abandoned;
// their records are reconciled on the next start.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Infow("Runner shut down cleanly")
		return nil
	case <-time.After(timeout):
		return errors.Newf("runner shutdown timed out after %s", timeout)
	}
}

// summarizeError reduces an error to a single bounded line suitable for
// persisting on the record
func summarizeError(err error) string {
	summary := err.Error()
	if i := strings.IndexByte(summary, '\n'); i >= 0 {
		summary = summary[:i]
	}
	if len(summary) > maxErrorSummaryLen {
		summary = fmt.Sprintf("%s... (truncated)", summary[:maxErrorSummaryLen])
	}
	return summary
}
