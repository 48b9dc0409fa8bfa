package ops

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foliolabs/folio/db"
	"github.com/foliolabs/folio/logger"
)

// Sweeper periodically deletes terminal operation records older than the
// retention window. Age is measured from the completion timestamp, so a
// record that ran for hours is retained for the full window after it
// finished. Pending and running records are never deleted.
type Sweeper struct {
	store *Store
	log   *zap.SugaredLogger

	retention time.Duration
	interval  time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a retention sweeper for the store
func NewSweeper(store *Store, retention, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	if log == nil {
		log = logger.Logger
	}

	return &Sweeper{
		store:     store,
		log:       log.Named("ops.sweeper"),
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start begins periodic sweeping. One sweep runs immediately so a process
// that restarts rarely still enforces retention.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if _, err := s.Sweep(); err != nil {
			s.log.Errorw("Initial retention sweep failed",
				logger.FieldError, err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(); err != nil {
					if db.IsDatabaseClosed(err) {
						// Shutdown race: the ticker fired after Close
						return
					}
					s.log.Errorw("Retention sweep failed",
						logger.FieldError, err)
				}
			case <-s.done:
				return
			}
		}
	}()
}

// Sweep deletes terminal records past the retention window and returns how
// many were removed
func (s *Sweeper) Sweep() (int, error) {
	cutoff := time.Now().Add(-s.retention)

	deleted, err := s.store.DeleteTerminalBefore(cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.log.Infow("Swept old operation records",
			logger.FieldCount, deleted,
			"cutoff", cutoff)
	}
	return deleted, nil
}

// Stop halts periodic sweeping and waits for an in-progress sweep to finish
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
