package device_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type recordingReporter struct {
	mu        sync.Mutex
	confirmed []device.Device
	failed    []*device.DetectionError
}

func (r *recordingReporter) ProbeSucceeded(d device.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, d)
}

func (r *recordingReporter) ProbeFailed(err *device.DetectionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recordingReporter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed), len(r.failed)
}

type ProberTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	reporter *recordingReporter
}

func (suite *ProberTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.reporter = &recordingReporter{}
}

func (suite *ProberTestSuite) TestReportsBeforeCompletion() {
	// GOAL: Verify the probe outcome is reported before the completion signal fires
	//
	// TEST SCENARIO: Confirming probe → signal fires → reporter already holds the device

	dev := suite.helper.NewSerial("COM3:", testutils.Confirms())
	dev.BeginDetection(suite.reporter)

	suite.Require().True(dev.Done().Wait(time.Second), "probe MUST complete")
	confirmed, failed := suite.reporter.counts()
	suite.Equal(1, confirmed, "success MUST be reported before Done fires")
	suite.Equal(0, failed)
	suite.Equal(1, dev.Reliability().Successes)
	suite.False(dev.Reliability().LastDetected.IsZero())
}

func (suite *ProberTestSuite) TestFailureCarriesDevice() {
	cause := errors.New("port busy")
	dev := suite.helper.NewSerial("COM4:", testutils.FailsWith(cause))
	dev.BeginDetection(suite.reporter)

	suite.Require().True(dev.Done().Wait(time.Second))
	suite.Require().Len(suite.reporter.failed, 1)
	de := suite.reporter.failed[0]
	suite.Same(dev, de.Device.(*testutils.FakeDevice))
	suite.ErrorIs(de, cause, "cause MUST stay in the error chain")
	suite.Equal(1, dev.Reliability().Failures)
}

func (suite *ProberTestSuite) TestCancelReportsNothing() {
	dev := suite.helper.NewSerial("COM5:", testutils.BlocksUntilCanceled())
	dev.BeginDetection(suite.reporter)
	suite.helper.Eventually(func() bool { return dev.ProbeCount() == 1 }, "probe started")

	dev.CancelDetection()

	suite.Require().True(dev.Done().Wait(time.Second), "canceled probe MUST complete")
	confirmed, failed := suite.reporter.counts()
	suite.Zero(confirmed)
	suite.Zero(failed, "cancellation is not a failure")
}

func (suite *ProberTestSuite) TestBeginWhileRunningIsNoop() {
	dev := suite.helper.NewSerial("COM6:", testutils.BlocksUntilCanceled())
	dev.BeginDetection(suite.reporter)
	first := dev.Done()
	dev.BeginDetection(suite.reporter)

	suite.Same(first, dev.Done(), "second BeginDetection MUST NOT replace the running probe")
	dev.CancelDetection()
	suite.True(first.Wait(time.Second))
	suite.Equal(1, dev.ProbeCount())
}

func (suite *ProberTestSuite) TestDisposeInvalidatesSignal() {
	dev := suite.helper.NewSerial("COM7:", testutils.BlocksUntilCanceled())
	dev.BeginDetection(suite.reporter)
	sig := dev.Done()

	dev.Dispose()

	suite.True(sig.Wait(time.Second))
	suite.True(sig.Disposed())
	suite.Nil(dev.Done(), "disposed device MUST expose no signal")

	dev.BeginDetection(suite.reporter)
	suite.Nil(dev.Done(), "disposed device MUST refuse new probes")
}

func TestProberTestSuite(t *testing.T) {
	suite.Run(t, new(ProberTestSuite))
}
