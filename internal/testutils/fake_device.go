package testutils

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
)

// FakeDevice is a scriptable device.PortDevice for detector tests. Its probe
// outcome, open behaviour and timing are set with FakeOption values.
type FakeDevice struct {
	*device.Prober

	mu        sync.Mutex
	id        device.Identity
	open      bool
	allow     bool
	openErr   error
	openCalls int

	result  error
	delay   time.Duration
	block   bool
	hold    chan struct{}
	probes  atomic.Int32
	closeFn func()

	rel    device.Reliability
	logger *logrus.Logger
}

// FakeOption configures a FakeDevice.
type FakeOption func(*FakeDevice)

// Confirms makes the probe succeed.
func Confirms() FakeOption { return func(f *FakeDevice) { f.result = nil } }

// FailsWith makes the probe fail with err.
func FailsWith(err error) FakeOption { return func(f *FakeDevice) { f.result = err } }

// ProbeDelay makes the probe take d (cancelable).
func ProbeDelay(d time.Duration) FakeOption { return func(f *FakeDevice) { f.delay = d } }

// BlocksUntilCanceled makes the probe never finish on its own.
func BlocksUntilCanceled() FakeOption { return func(f *FakeDevice) { f.block = true } }

// IgnoresCancel makes the probe wait for Release even when canceled.
func IgnoresCancel() FakeOption {
	return func(f *FakeDevice) { f.hold = make(chan struct{}) }
}

// Opened starts the device in the open state.
func Opened() FakeOption { return func(f *FakeDevice) { f.open = true } }

// OpenFails makes Open return err.
func OpenFails(err error) FakeOption { return func(f *FakeDevice) { f.openErr = err } }

// DisallowConnections clears the allow-connections flag.
func DisallowConnections() FakeOption { return func(f *FakeDevice) { f.allow = false } }

// WithReliability seeds the detection history.
func WithReliability(successes, failures int) FakeOption {
	return func(f *FakeDevice) { f.rel = device.Reliability{Successes: successes, Failures: failures} }
}

// WithLogger sets the logger handed to the embedded Prober.
func WithLogger(l *logrus.Logger) FakeOption { return func(f *FakeDevice) { f.logger = l } }

// OnClose registers a hook run on every Close.
func OnClose(fn func()) FakeOption { return func(f *FakeDevice) { f.closeFn = fn } }

// NewFakeDevice creates a fake of the given kind. Without options the probe
// fails with device.ErrNotPositioning.
func NewFakeDevice(kind device.Kind, key string, opts ...FakeOption) *FakeDevice {
	f := &FakeDevice{
		id:     device.Identity{Kind: kind, Key: key},
		allow:  true,
		result: device.ErrNotPositioning,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.Prober = device.NewProber(f, f.rel, f.probe, f.logger)
	return f
}

func (f *FakeDevice) probe(ctx context.Context) error {
	f.probes.Add(1)

	if f.hold != nil {
		<-f.hold
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.delay > 0 {
		t := time.NewTimer(f.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.result
}

// Release lets an IgnoresCancel probe return.
func (f *FakeDevice) Release() {
	if f.hold != nil {
		close(f.hold)
	}
}

// ProbeCount returns how many probes ran.
func (f *FakeDevice) ProbeCount() int { return int(f.probes.Load()) }

// OpenCalls returns how many times Open was called.
func (f *FakeDevice) OpenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

func (f *FakeDevice) Identity() device.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *FakeDevice) Name() string { return f.Identity().Key }

func (f *FakeDevice) Port() string { return f.Identity().Key }

func (f *FakeDevice) Rename(port string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id.Key = strings.TrimSpace(port)
}

func (f *FakeDevice) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	if f.openErr != nil {
		return f.openErr
	}
	if f.open {
		return device.ErrAlreadyOpen
	}
	f.open = true
	return nil
}

func (f *FakeDevice) Close() error {
	f.mu.Lock()
	f.open = false
	fn := f.closeFn
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *FakeDevice) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeDevice) AllowConnections() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allow
}

var _ device.PortDevice = (*FakeDevice)(nil)
