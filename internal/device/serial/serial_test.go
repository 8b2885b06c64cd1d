package serial_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/device/serial"
	"github.com/srg/posdev/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const gga = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76\r\n"

type outcome struct {
	mu     sync.Mutex
	ok     []device.Device
	failed []*device.DetectionError
}

func (o *outcome) ProbeSucceeded(d device.Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ok = append(o.ok, d)
}

func (o *outcome) ProbeFailed(err *device.DetectionError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, err)
}

type SerialDeviceTestSuite struct {
	suite.Suite
	helper         *testutils.TestHelper
	originalOpener func(path string, baud int) (io.ReadCloser, error)
	opened         []int
	mu             sync.Mutex
}

func (suite *SerialDeviceTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.originalOpener = serial.PortOpener
	suite.opened = nil
}

func (suite *SerialDeviceTestSuite) TearDownTest() {
	serial.PortOpener = suite.originalOpener
}

// streams installs an opener that serves the given text per baud rate.
func (suite *SerialDeviceTestSuite) streams(byBaud map[int]string) {
	serial.PortOpener = func(path string, baud int) (io.ReadCloser, error) {
		suite.mu.Lock()
		suite.opened = append(suite.opened, baud)
		suite.mu.Unlock()
		return io.NopCloser(strings.NewReader(byBaud[baud])), nil
	}
}

func (suite *SerialDeviceTestSuite) openedBauds() []int {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	return append([]int(nil), suite.opened...)
}

func (suite *SerialDeviceTestSuite) newDevice(path string) *serial.SerialDevice {
	opts := serial.DefaultOptions()
	opts.BaudRates = []int{4800, 9600}
	opts.ProbeWindow = time.Second
	return serial.New(path, device.Reliability{}, opts, suite.helper.Logger)
}

func (suite *SerialDeviceTestSuite) probe(d *serial.SerialDevice) *outcome {
	o := &outcome{}
	d.BeginDetection(o)
	suite.Require().True(d.Done().Wait(2*time.Second), "probe MUST complete")
	return o
}

func (suite *SerialDeviceTestSuite) TestProbeFindsBaudRate() {
	// GOAL: Verify the probe walks the baud rates and keeps the one carrying NMEA
	//
	// TEST SCENARIO: Noise at 4800, GGA at 9600 → confirmed, Baud() == 9600

	suite.streams(map[int]string{4800: "\x00\xff\x13garbage\r\n", 9600: gga})
	d := suite.newDevice("/dev/ttyUSB0")

	o := suite.probe(d)

	suite.Len(o.ok, 1)
	suite.Empty(o.failed)
	suite.Equal(9600, d.Baud())
	suite.Equal([]int{4800, 9600}, suite.openedBauds())
	suite.False(d.IsOpen(), "probe MUST close the port")
}

func (suite *SerialDeviceTestSuite) TestProbeFailsWithoutNMEA() {
	suite.streams(map[int]string{4800: "hello\r\n", 9600: "world\r\n"})
	d := suite.newDevice("/dev/ttyUSB0")

	o := suite.probe(d)

	suite.Empty(o.ok)
	suite.Require().Len(o.failed, 1)
	suite.ErrorIs(o.failed[0], device.ErrNotPositioning)
	suite.Equal([]int{4800, 9600}, suite.openedBauds())
	suite.Equal(1, d.Reliability().Failures)
}

func (suite *SerialDeviceTestSuite) TestProbeStopsOnOpenError() {
	busy := errors.New("device or resource busy")
	serial.PortOpener = func(path string, baud int) (io.ReadCloser, error) {
		suite.mu.Lock()
		suite.opened = append(suite.opened, baud)
		suite.mu.Unlock()
		return nil, busy
	}
	d := suite.newDevice("/dev/ttyUSB0")

	o := suite.probe(d)

	suite.Require().Len(o.failed, 1)
	suite.ErrorIs(o.failed[0], busy)
	suite.Len(suite.openedBauds(), 1, "other rates MUST NOT be tried when the port cannot open")
}

func (suite *SerialDeviceTestSuite) TestOpenReadClose() {
	suite.streams(map[int]string{4800: gga})
	d := suite.newDevice("/dev/ttyUSB0")

	_, err := d.Read(make([]byte, 8))
	suite.ErrorIs(err, device.ErrNotOpen)

	suite.Require().NoError(d.Open())
	suite.True(d.IsOpen())
	suite.ErrorIs(d.Open(), device.ErrAlreadyOpen)

	buf := make([]byte, 6)
	n, err := d.Read(buf)
	suite.Require().NoError(err)
	suite.Equal("$GPGGA", string(buf[:n]))

	suite.NoError(d.Close())
	suite.NoError(d.Close())
	suite.False(d.IsOpen())
}

func (suite *SerialDeviceTestSuite) TestProbeConfirmsOpenDevice() {
	suite.streams(map[int]string{})
	d := suite.newDevice("/dev/ttyUSB0")
	suite.Require().NoError(d.Open())

	o := suite.probe(d)
	suite.Len(o.ok, 1)
	suite.Len(suite.openedBauds(), 1, "an open device MUST NOT be reopened")
}

func (suite *SerialDeviceTestSuite) TestRename() {
	d := suite.newDevice("COM3:")
	d.Rename(" COM3 ")

	suite.Equal("COM3", d.Port())
	suite.Equal(device.Identity{Kind: device.KindSerial, Key: "COM3"}, d.Identity())
}

func TestSerialDeviceTestSuite(t *testing.T) {
	suite.Run(t, new(SerialDeviceTestSuite))
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB1", "ttyUSB0", "ttyACM0", "console"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	got := serial.Enumerate([]string{
		filepath.Join(dir, "ttyUSB*"),
		filepath.Join(dir, "ttyACM*"),
		filepath.Join(dir, "ttyUSB0"),
	})

	want := []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}
	if len(got) != len(want) {
		t.Fatalf("Enumerate() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Enumerate()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
