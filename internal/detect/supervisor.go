package detect

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/groutine"
)

// Supervisor fans probes out and tracks their completion signals until each
// one fires. The outstanding set only ever shrinks between launches.
type Supervisor struct {
	mu          sync.Mutex
	outstanding map[*device.Signal]device.Device
	drained     chan struct{}
	logger      *logrus.Logger
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	drained := make(chan struct{})
	close(drained)
	return &Supervisor{
		outstanding: make(map[*device.Signal]device.Device),
		drained:     drained,
		logger:      logger,
	}
}

// Launch begins detection on d and tracks its completion signal. It never
// blocks. A device that yields no signal, or an invalidated one, is treated
// as already complete.
func (s *Supervisor) Launch(d device.Device, r device.Reporter) {
	d.BeginDetection(r)

	sig := d.Done()
	if sig == nil || sig.Disposed() || sig.IsSet() {
		return
	}

	s.mu.Lock()
	if _, tracked := s.outstanding[sig]; tracked {
		s.mu.Unlock()
		return
	}
	if len(s.outstanding) == 0 {
		s.drained = make(chan struct{})
	}
	s.outstanding[sig] = d
	s.mu.Unlock()

	groutine.Go(context.Background(), "supervise:"+d.Identity().String(), func(context.Context) {
		<-sig.C()
		s.remove(sig)
	})
}

// LaunchAll launches every device in order.
func (s *Supervisor) LaunchAll(devices []device.Device, r device.Reporter) {
	for _, d := range devices {
		s.Launch(d, r)
	}
}

func (s *Supervisor) remove(sig *device.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.outstanding[sig]
	if !ok {
		return
	}
	delete(s.outstanding, sig)
	if sig.Disposed() {
		s.logger.WithField("device", d.Name()).Debug("Probe signal invalidated, treating as complete")
	}
	if len(s.outstanding) == 0 {
		close(s.drained)
	}
}

// AwaitAll blocks until no probe is outstanding or ctx is done. It returns
// ctx.Err() in the latter case.
func (s *Supervisor) AwaitAll(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.outstanding) == 0 {
			s.mu.Unlock()
			return nil
		}
		drained := s.drained
		s.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CancelAll asks every outstanding probe to stop. When blocking it then waits
// as AwaitAll does; otherwise the set drains in the background.
func (s *Supervisor) CancelAll(ctx context.Context, blocking bool) error {
	s.mu.Lock()
	devices := make([]device.Device, 0, len(s.outstanding))
	for _, d := range s.outstanding {
		devices = append(devices, d)
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"outstanding": len(devices),
		"blocking":    blocking,
	}).Debug("Canceling outstanding probes")

	for _, d := range devices {
		d.CancelDetection()
	}
	if !blocking {
		return nil
	}
	return s.AwaitAll(ctx)
}

// Outstanding returns the number of probes still in flight.
func (s *Supervisor) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}
