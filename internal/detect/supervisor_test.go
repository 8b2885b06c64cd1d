package detect_test

import (
	"context"
	"testing"
	"time"

	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type nopReporter struct{}

func (nopReporter) ProbeSucceeded(device.Device) {}
func (nopReporter) ProbeFailed(*device.DetectionError) {}

type SupervisorTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	sup    *detect.Supervisor
}

func (suite *SupervisorTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.sup = detect.NewSupervisor(suite.helper.Logger)
}

func (suite *SupervisorTestSuite) TestAwaitAllWaitsForEveryProbe() {
	devices := []device.Device{
		suite.helper.NewSerial("COM1:", testutils.ProbeDelay(10*time.Millisecond)),
		suite.helper.NewSerial("COM2:", testutils.ProbeDelay(40*time.Millisecond)),
		suite.helper.NewSerial("COM3:", testutils.Confirms()),
	}

	suite.sup.LaunchAll(devices, nopReporter{})
	suite.Require().NoError(suite.sup.AwaitAll(context.Background()))

	suite.Equal(0, suite.sup.Outstanding())
	for _, d := range devices {
		suite.True(d.Done().IsSet(), "%s MUST be complete", d.Name())
	}
}

func (suite *SupervisorTestSuite) TestAwaitAllWithNothingOutstanding() {
	suite.NoError(suite.sup.AwaitAll(context.Background()))
}

func (suite *SupervisorTestSuite) TestAwaitAllHonorsContext() {
	dev := suite.helper.NewSerial("COM1:", testutils.BlocksUntilCanceled())
	suite.sup.Launch(dev, nopReporter{})
	defer dev.CancelDetection()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	suite.ErrorIs(suite.sup.AwaitAll(ctx), context.DeadlineExceeded)
	suite.Equal(1, suite.sup.Outstanding())
}

func (suite *SupervisorTestSuite) TestInvalidatedSignalCountsAsComplete() {
	// GOAL: Verify a probe whose device is disposed mid-wait does not stall AwaitAll
	//
	// TEST SCENARIO: Probe ignores cancel → dispose device → AwaitAll returns without error

	dev := suite.helper.NewSerial("COM1:", testutils.IgnoresCancel())
	defer dev.Release()
	suite.sup.Launch(dev, nopReporter{})
	suite.Require().Equal(1, suite.sup.Outstanding())

	time.AfterFunc(20*time.Millisecond, dev.Dispose)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	suite.NoError(suite.sup.AwaitAll(ctx))
	suite.Equal(0, suite.sup.Outstanding())
}

func (suite *SupervisorTestSuite) TestDisposedDeviceIsNotTracked() {
	dev := suite.helper.NewSerial("COM1:")
	dev.Dispose()

	suite.sup.Launch(dev, nopReporter{})
	suite.Equal(0, suite.sup.Outstanding())
	suite.Equal(0, dev.ProbeCount())
}

func (suite *SupervisorTestSuite) TestCancelAllBlocking() {
	devices := []device.Device{
		suite.helper.NewSerial("COM1:", testutils.BlocksUntilCanceled()),
		suite.helper.NewSerial("COM2:", testutils.BlocksUntilCanceled()),
	}
	suite.sup.LaunchAll(devices, nopReporter{})
	suite.Require().Equal(2, suite.sup.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	suite.NoError(suite.sup.CancelAll(ctx, true))
	suite.Equal(0, suite.sup.Outstanding())
}

func (suite *SupervisorTestSuite) TestCancelAllNonBlockingDrainsLater() {
	// GOAL: Verify the non-blocking cancel returns before probes acknowledge
	//
	// TEST SCENARIO: Probe ignores cancel → CancelAll(false) returns, entry remains → Release → set drains

	dev := suite.helper.NewSerial("COM1:", testutils.IgnoresCancel())
	suite.sup.Launch(dev, nopReporter{})

	suite.NoError(suite.sup.CancelAll(context.Background(), false))
	suite.Equal(1, suite.sup.Outstanding(), "entry MUST remain until the probe acknowledges")

	dev.Release()
	suite.helper.Eventually(func() bool { return suite.sup.Outstanding() == 0 }, "outstanding set MUST drain")
}

func (suite *SupervisorTestSuite) TestRelaunchWhileRunningIsTrackedOnce() {
	dev := suite.helper.NewSerial("COM1:", testutils.BlocksUntilCanceled())
	suite.sup.Launch(dev, nopReporter{})
	suite.sup.Launch(dev, nopReporter{})

	suite.Equal(1, suite.sup.Outstanding())
	suite.NoError(suite.sup.CancelAll(context.Background(), true))
}

func TestSupervisorTestSuite(t *testing.T) {
	suite.Run(t, new(SupervisorTestSuite))
}
