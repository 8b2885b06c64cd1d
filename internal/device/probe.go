package device

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/groutine"
)

// ProbeFunc inspects a device and returns nil once it has proven to carry
// positioning data. It must return promptly when ctx is canceled.
type ProbeFunc func(ctx context.Context) error

// Prober implements the BeginDetection / CancelDetection / Done part of the
// Device contract. Transports embed it and supply a ProbeFunc.
type Prober struct {
	mu       sync.Mutex
	owner    Device
	probe    ProbeFunc
	logger   *logrus.Logger
	cancel   context.CancelFunc
	done     *Signal
	running  bool
	disposed bool
	rel      Reliability
}

// NewProber creates a Prober for owner. rel seeds the reliability history,
// typically from the device cache.
func NewProber(owner Device, rel Reliability, probe ProbeFunc, logger *logrus.Logger) *Prober {
	if logger == nil {
		logger = logrus.New()
	}
	return &Prober{
		owner:  owner,
		probe:  probe,
		logger: logger,
		rel:    rel,
	}
}

// BeginDetection starts the probe on its own goroutine.
func (p *Prober) BeginDetection(r Reporter) {
	p.mu.Lock()
	if p.running || p.disposed {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := NewSignal()
	p.cancel = cancel
	p.done = done
	p.running = true
	p.mu.Unlock()

	id := p.owner.Identity().String()
	p.logger.WithField("identity", id).Debug("Probe started")

	groutine.Go(ctx, "probe:"+id, func(ctx context.Context) {
		p.run(ctx, r, done)
	})
}

func (p *Prober) run(ctx context.Context, r Reporter, done *Signal) {
	defer func() {
		p.mu.Lock()
		p.running = false
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		done.Set()
	}()

	started := time.Now()
	err := p.probe(ctx)
	fields := logrus.Fields{
		"identity": p.owner.Identity().String(),
		"elapsed":  time.Since(started).Round(time.Millisecond),
	}

	switch {
	case err == nil:
		p.record(true)
		p.logger.WithFields(fields).Info("Positioning device confirmed")
		if r != nil {
			r.ProbeSucceeded(p.owner)
		}
	case ctx.Err() != nil:
		p.logger.WithFields(fields).Debug("Probe canceled")
	default:
		p.record(false)
		p.logger.WithFields(fields).WithError(err).Debug("Probe failed")
		if r != nil {
			r.ProbeFailed(NewDetectionError(p.owner, err))
		}
	}
}

func (p *Prober) record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.rel.Successes++
		p.rel.LastDetected = time.Now()
	} else {
		p.rel.Failures++
	}
}

// CancelDetection asks the running probe to stop.
func (p *Prober) CancelDetection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && p.cancel != nil {
		p.cancel()
	}
}

// Done returns the completion signal of the current or last probe.
func (p *Prober) Done() *Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil
	}
	return p.done
}

// IsDetecting reports whether a probe is in flight.
func (p *Prober) IsDetecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Reliability returns the detection history.
func (p *Prober) Reliability() Reliability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rel
}

// Dispose cancels any probe, invalidates its signal and refuses new probes.
func (p *Prober) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.done.Dispose()
}
