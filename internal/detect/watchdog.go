package detect

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/groutine"
)

// Watchdog bounds one detection run. It waits for the run's completion
// signal up to Budget and calls Expire at most once if the budget runs out.
type Watchdog struct {
	Budget time.Duration
	Expire func()

	fired  atomic.Bool
	logger *logrus.Logger
}

// NewWatchdog creates a watchdog; Start must be called to arm it.
func NewWatchdog(budget time.Duration, expire func(), logger *logrus.Logger) *Watchdog {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watchdog{Budget: budget, Expire: expire, logger: logger}
}

// Start arms the watchdog against done. The returned channel closes when the
// watchdog goroutine exits, which happens as soon as either done fires or the
// budget elapses.
func (w *Watchdog) Start(done *device.Signal) <-chan struct{} {
	return groutine.Go(context.Background(), "posdev-watchdog", func(context.Context) {
		timer := time.NewTimer(w.Budget)
		defer timer.Stop()

		select {
		case <-done.C():
			return
		case <-timer.C:
		}

		if !w.fired.CompareAndSwap(false, true) {
			return
		}
		w.logger.WithField("timeout", w.Budget).Warn("Detection timed out, canceling")
		if w.Expire != nil {
			w.Expire()
		}
	})
}

// Fired reports whether the budget elapsed before the run completed.
func (w *Watchdog) Fired() bool {
	return w.fired.Load()
}
