/*
sweeper.go - Automated expiration sweeper

PURPOSE:
  Periodically runs the expiration scan so stale forecasts are expired
  without waiting for an operator to hit /api/expirations/check.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - The scan itself is idempotent: already-expired rows leave the open
    pool, so overlapping or repeated sweeps do no extra work
  - Each sweep records a run for audit and UI display

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: false; the scan is
    also exposed as a manual endpoint)

USAGE:
  sweeper := NewExpirationSweeper(handler.Scanner, log)
  sweeper.Enabled = true
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: CheckExpirations endpoint (manual scan)
  - projection/expiration.go: Scanner
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/merchops/projection-engine/projection"
)

// ExpirationSweeper runs periodic expiration scans.
type ExpirationSweeper struct {
	Scanner  *projection.Scanner
	Log      logrus.FieldLogger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirationSweeper creates a new sweeper.
func NewExpirationSweeper(scanner *projection.Scanner, log logrus.FieldLogger) *ExpirationSweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExpirationSweeper{
		Scanner:  scanner,
		Log:      log,
		Interval: 1 * time.Hour,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweeper.
func (es *ExpirationSweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Log.Info("expiration sweeper disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.Interval)
	es.wg.Add(1)

	go es.run()

	es.Log.WithField("interval", es.Interval).Info("expiration sweeper started")
}

// Stop stops the sweeper.
func (es *ExpirationSweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.Log.Info("expiration sweeper stopped")
	}
}

func (es *ExpirationSweeper) run() {
	defer es.wg.Done()

	// Sweep immediately on start
	es.sweep()

	for {
		select {
		case <-es.ticker.C:
			es.sweep()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirationSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, err := es.Scanner.Scan(ctx)
	if err != nil {
		es.Log.WithError(err).Error("expiration sweep failed")
		return
	}

	if summary.RegularExpired+summary.SpoExpired+len(summary.Errors) > 0 {
		es.Log.WithFields(logrus.Fields{
			"regular_expired": summary.RegularExpired,
			"spo_expired":     summary.SpoExpired,
			"errors":          len(summary.Errors),
		}).Info("expiration sweep completed")
	}
}
