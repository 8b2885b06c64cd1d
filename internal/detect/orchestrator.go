// Package detect finds positioning devices and arbitrates between them.
//
// An Orchestrator owns a Catalog of confirmed devices, fans probes out
// through a Supervisor, bounds every run with a Watchdog and hands a usable
// device to callers of Acquire.
package detect

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/groutine"
	"github.com/srg/posdev/internal/hub"
)

// Discoverer is the wireless discovery collaborator.
type Discoverer interface {
	// Available reports whether the wireless stack can be used at all.
	Available() bool
	// Discover scans until ctx is done or the scan finishes, calling found
	// for every device seen. Returning is the join point of the scan.
	Discover(ctx context.Context, found func(device.Device)) error
}

// State is the orchestrator's position in a detection run
type State int

const (
	StateIdle State = iota
	StateStarting
	StateScanningWireless
	StateScanningSerial
	StateAwaitingCompletion
	StateScanningSerialRetry
	StateCompleted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateScanningWireless:
		return "scanning_wireless"
	case StateScanningSerial:
		return "scanning_serial"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateScanningSerialRetry:
		return "scanning_serial_retry"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	done     *device.Signal
	canceled atomic.Bool
	blocking atomic.Bool
	finished atomic.Bool
	watchdog *Watchdog
}

// Orchestrator drives detection runs. At most one run is active at a time.
type Orchestrator struct {
	optMu sync.RWMutex
	opts  Options

	catalog    *Catalog
	supervisor *Supervisor
	source     Candidates
	discoverer Discoverer
	events     *hub.Hub[Event]
	logger     *logrus.Logger

	mu    sync.Mutex
	run   *run
	state State

	streamNeeded atomic.Int32
}

// New creates an orchestrator. source and discoverer may be nil, in which
// case the corresponding pools stay empty.
func New(opts Options, source Candidates, discoverer Discoverer, logger *logrus.Logger) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	return &Orchestrator{
		opts:       opts,
		catalog:    NewCatalog(source, opts.Comparator),
		supervisor: NewSupervisor(logger),
		source:     source,
		discoverer: discoverer,
		events:     hub.New[Event](),
		logger:     logger,
	}, nil
}

// Options returns a copy of the current options.
func (o *Orchestrator) Options() Options {
	o.optMu.RLock()
	defer o.optMu.RUnlock()
	return o.opts
}

// SetDetectionTimeout changes the run budget used from the next run on.
func (o *Orchestrator) SetDetectionTimeout(d time.Duration) error {
	if err := ValidateDetectionTimeout(d); err != nil {
		return err
	}
	o.optMu.Lock()
	o.opts.DetectionTimeout = d
	o.optMu.Unlock()
	return nil
}

// SetMaxPortNumber changes the upper bound of the exhaustive port scan.
func (o *Orchestrator) SetMaxPortNumber(n int) error {
	if err := ValidateMaxPortNumber(n); err != nil {
		return err
	}
	o.optMu.Lock()
	o.opts.MaxPortNumber = n
	o.optMu.Unlock()
	return nil
}

func (o *Orchestrator) SetAllowSerial(v bool) {
	o.optMu.Lock()
	o.opts.AllowSerial = v
	o.optMu.Unlock()
}

func (o *Orchestrator) SetAllowWireless(v bool) {
	o.optMu.Lock()
	o.opts.AllowWireless = v
	o.optMu.Unlock()
}

func (o *Orchestrator) SetExhaustivePortScan(v bool) {
	o.optMu.Lock()
	o.opts.ExhaustivePortScan = v
	o.optMu.Unlock()
}

func (o *Orchestrator) SetStopAfterFirst(v bool) {
	o.optMu.Lock()
	o.opts.StopAfterFirst = v
	o.optMu.Unlock()
}

// Catalog exposes the device catalog.
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// Devices returns the confirmed devices in rank order.
func (o *Orchestrator) Devices() []device.Device {
	return o.catalog.Devices()
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.logger.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Debug("Detection state")
}

// IsDetectionInProgress reports whether a run is active.
func (o *Orchestrator) IsDetectionInProgress() bool {
	return o.activeRun() != nil
}

// Outstanding returns the number of probes in flight.
func (o *Orchestrator) Outstanding() int {
	return o.supervisor.Outstanding()
}

func (o *Orchestrator) activeRun() *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run
}

// BeginDetection starts a detection run in the background. It is a no-op
// while a run is active.
func (o *Orchestrator) BeginDetection() {
	o.mu.Lock()
	if o.run != nil {
		o.mu.Unlock()
		o.logger.Debug("Detection already in progress")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: ctx, cancel: cancel, done: device.NewSignal()}
	o.run = r
	o.state = StateStarting
	o.mu.Unlock()

	groutine.Go(ctx, "posdev-detector", func(ctx context.Context) {
		o.detect(ctx, r)
	})
}

func (o *Orchestrator) detect(ctx context.Context, r *run) {
	opts := o.Options()
	defer o.finish(r, opts)

	o.logger.WithFields(logrus.Fields{
		"allow_serial":   opts.AllowSerial,
		"allow_wireless": opts.AllowWireless,
		"exhaustive":     opts.ExhaustivePortScan,
		"timeout":        opts.DetectionTimeout,
	}).Info("Detection started")
	o.emit(DetectionStarted, nil, nil)

	r.watchdog = NewWatchdog(opts.DetectionTimeout, func() { o.cancelRun(r, true) }, o.logger)
	r.watchdog.Start(r.done)

	o.catalog.Clear()
	rep := &runReporter{o: o, run: r}

	o.setState(StateScanningWireless)
	var discovery <-chan struct{}
	if opts.AllowWireless {
		discovery = o.scanWireless(ctx, rep)
	}

	o.setState(StateScanningSerial)
	if opts.AllowSerial {
		o.scanSerial(ctx, rep, opts, false)
	}

	if discovery != nil {
		select {
		case <-discovery:
		case <-ctx.Done():
		}
	}

	o.setState(StateAwaitingCompletion)
	if err := o.supervisor.AwaitAll(ctx); err != nil || r.canceled.Load() {
		return
	}

	if opts.AllowSerial && !o.catalog.IsAnyConfirmed() {
		o.logger.Info("No device found, retrying serial ports without delimiter")
		o.setState(StateScanningSerialRetry)
		o.scanSerial(ctx, rep, opts, true)

		o.setState(StateAwaitingCompletion)
		_ = o.supervisor.AwaitAll(ctx)
	}
}

func (o *Orchestrator) finish(r *run, opts Options) {
	r.finished.Store(true)
	if r.canceled.Load() {
		o.setState(StateCanceled)
		if r.blocking.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.DetectionTimeout)
			if err := o.supervisor.AwaitAll(ctx); err != nil {
				o.logger.WithField("outstanding", o.supervisor.Outstanding()).Warn("Probes still running after cancellation")
			}
			cancel()
		}
		o.emit(DetectionCanceled, nil, nil)
	} else {
		o.setState(StateCompleted)
	}

	o.logger.WithField("devices", len(o.catalog.Devices())).Info("Detection completed")

	o.mu.Lock()
	o.run = nil
	o.state = StateIdle
	o.mu.Unlock()

	o.emit(DetectionCompleted, nil, nil)
	r.cancel()
	r.done.Set()
}

func (o *Orchestrator) launch(ctx context.Context, d device.Device, rep *runReporter) {
	if ctx.Err() != nil {
		return
	}
	o.emit(DetectionAttempted, d, nil)
	o.supervisor.Launch(d, rep)
	// A cancel that raced the launch must still reach this probe.
	if ctx.Err() != nil {
		d.CancelDetection()
	}
}

func (o *Orchestrator) scanWireless(ctx context.Context, rep *runReporter) <-chan struct{} {
	if o.discoverer == nil || !o.discoverer.Available() {
		o.logger.Info("Wireless scanning unavailable, skipping")
		return nil
	}

	for _, d := range o.catalog.WirelessPool() {
		o.launch(ctx, d, rep)
	}

	return groutine.Go(ctx, "posdev-discovery", func(ctx context.Context) {
		err := o.discoverer.Discover(ctx, func(d device.Device) {
			o.discovered(ctx, d, rep)
		})
		if err != nil && ctx.Err() == nil {
			o.logger.WithError(err).Warn("Wireless discovery failed")
		}
	})
}

func (o *Orchestrator) discovered(ctx context.Context, d device.Device, rep *runReporter) {
	if !o.catalog.AddWireless(d) {
		o.logger.WithField("device", d.Name()).Debug("Already known, discarding duplicate")
		if o.catalog.holdsWireless(d) {
			return
		}
		_ = d.Close()
		if disposer, ok := d.(interface{ Dispose() }); ok {
			disposer.Dispose()
		}
		return
	}
	o.emit(DeviceDiscovered, d, nil)
	o.launch(ctx, d, rep)
}

func (o *Orchestrator) scanSerial(ctx context.Context, rep *runReporter, opts Options, retry bool) {
	for _, d := range o.catalog.SerialPool() {
		if ctx.Err() != nil {
			return
		}
		if retry {
			o.normalizePort(d)
		}
		o.launch(ctx, d, rep)
	}

	if !opts.ExhaustivePortScan || o.source == nil {
		return
	}
	for n := 0; n <= opts.MaxPortNumber; n++ {
		if ctx.Err() != nil {
			return
		}
		port := opts.PortName(n)
		if retry {
			port = strings.TrimSuffix(port, ":")
		}
		if o.catalog.HasPort(port) {
			continue
		}
		d := o.source.NewSerial(port)
		if d == nil || !o.catalog.AddSerial(d) {
			continue
		}
		o.launch(ctx, d, rep)
	}
}

// normalizePort strips the trailing ':' some platforms do not use, unless
// the bare name is already taken by another candidate.
func (o *Orchestrator) normalizePort(d device.PortDevice) {
	port := d.Port()
	if !strings.HasSuffix(port, ":") {
		return
	}
	bare := strings.TrimSuffix(port, ":")
	if o.catalog.HasPort(bare) {
		o.logger.WithFields(logrus.Fields{"port": port, "collides_with": bare}).Debug("Port rename skipped")
		return
	}
	d.Rename(bare)
}

// CancelDetection cancels the active run, if any. With async false it blocks
// until every probe has stopped and the run has emitted its terminal events.
func (o *Orchestrator) CancelDetection(async bool) {
	r := o.activeRun()
	if r == nil {
		return
	}
	o.cancelRun(r, async)
}

func (o *Orchestrator) cancelRun(r *run, async bool) {
	timeout := o.Options().DetectionTimeout

	if !r.canceled.CompareAndSwap(false, true) {
		if !async {
			r.done.Wait(timeout)
		}
		return
	}
	r.blocking.Store(!async)
	o.logger.WithField("async", async).Info("Canceling detection")
	r.cancel()

	if async {
		_ = o.supervisor.CancelAll(context.Background(), false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = o.supervisor.CancelAll(ctx, true)
	r.done.Wait(timeout)
}

// WaitForDevice waits up to timeout for a confirmed device. It returns at
// once when a device is already confirmed or no run is active. A
// non-positive timeout selects the detection timeout.
func (o *Orchestrator) WaitForDevice(timeout time.Duration) bool {
	return o.waitForDevice(context.Background(), timeout)
}

func (o *Orchestrator) waitForDevice(ctx context.Context, timeout time.Duration) bool {
	if o.catalog.IsAnyConfirmed() {
		return true
	}
	r := o.activeRun()
	if r == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, o.effectiveTimeout(timeout))
	defer cancel()
	select {
	case <-o.catalog.Available().C():
	case <-r.done.C():
	case <-ctx.Done():
	}
	return o.catalog.IsAnyConfirmed()
}

// WaitForDetection waits up to timeout for the active run to finish and
// reports whether no run is active afterwards.
func (o *Orchestrator) WaitForDetection(timeout time.Duration) bool {
	return o.waitForDetection(context.Background(), timeout)
}

func (o *Orchestrator) waitForDetection(ctx context.Context, timeout time.Duration) bool {
	r := o.activeRun()
	if r == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, o.effectiveTimeout(timeout))
	defer cancel()
	select {
	case <-r.done.C():
	case <-ctx.Done():
	}
	return !o.IsDetectionInProgress()
}

func (o *Orchestrator) effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return o.Options().DetectionTimeout
}

// Undetect cancels any run, forgets every confirmed and candidate device and
// purges the persistent cache.
func (o *Orchestrator) Undetect() error {
	o.CancelDetection(false)
	o.catalog.Clear()
	if o.source == nil {
		return nil
	}
	return o.source.Purge()
}

// runReporter routes probe outcomes of one run back to the orchestrator.
// Outcomes that arrive after the run finished are only recorded.
type runReporter struct {
	o   *Orchestrator
	run *run
}

func (rr *runReporter) ProbeSucceeded(d device.Device) {
	o := rr.o
	if o.source != nil {
		o.source.Record(d, true)
	}
	if rr.run.finished.Load() {
		o.logger.WithField("device", d.Name()).Debug("Late probe result ignored")
		return
	}
	if !o.catalog.Register(d) {
		return
	}
	o.emit(DeviceDetected, d, nil)

	if o.Options().StopAfterFirst {
		o.cancelRun(rr.run, true)
	}
}

func (rr *runReporter) ProbeFailed(err *device.DetectionError) {
	o := rr.o
	if o.source != nil && err.Device != nil {
		o.source.Record(err.Device, false)
	}
	if rr.run.finished.Load() {
		return
	}
	o.emit(DetectionAttemptFailed, err.Device, err)
}
