package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewSerial creates a fake serial device bound to the helper's logger.
func (h *TestHelper) NewSerial(port string, opts ...FakeOption) *FakeDevice {
	return NewFakeDevice(device.KindSerial, port, append([]FakeOption{WithLogger(h.Logger)}, opts...)...)
}

// NewWireless creates a fake wireless device bound to the helper's logger.
func (h *TestHelper) NewWireless(addr string, opts ...FakeOption) *FakeDevice {
	return NewFakeDevice(device.KindWireless, addr, append([]FakeOption{WithLogger(h.Logger)}, opts...)...)
}

// Eventually waits for cond with a short poll interval.
func (h *TestHelper) Eventually(cond func() bool, msg string) {
	h.T.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.T.Fatalf("condition not met: %s", msg)
}
