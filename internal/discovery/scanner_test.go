package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/discovery"
	"github.com/srg/posdev/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// fakeScanner replays sightings, then waits for the scan context to end.
type fakeScanner struct {
	sightings []discovery.Sighting
	err       error
	wait      bool
}

func (f *fakeScanner) Scan(ctx context.Context, handler func(discovery.Sighting)) error {
	for _, s := range f.sightings {
		handler(s)
	}
	if f.err != nil {
		return f.err
	}
	if f.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type DiscovererTestSuite struct {
	suite.Suite
	helper          *testutils.TestHelper
	originalFactory func() (discovery.Scanner, error)
	scanner         *fakeScanner
	found           []device.Device
}

func (suite *DiscovererTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.originalFactory = discovery.ScannerFactory
	suite.scanner = &fakeScanner{}
	suite.found = nil
	discovery.ScannerFactory = func() (discovery.Scanner, error) {
		return suite.scanner, nil
	}
}

func (suite *DiscovererTestSuite) TearDownTest() {
	discovery.ScannerFactory = suite.originalFactory
}

func (suite *DiscovererTestSuite) newDiscoverer(opts *discovery.ScanOptions) *discovery.Discoverer {
	return discovery.New(opts, func(s discovery.Sighting) device.Device {
		return suite.helper.NewWireless(s.Address)
	}, suite.helper.Logger)
}

func (suite *DiscovererTestSuite) collect(d device.Device) {
	suite.found = append(suite.found, d)
}

func (suite *DiscovererTestSuite) keys() []string {
	out := make([]string, 0, len(suite.found))
	for _, d := range suite.found {
		out = append(out, d.Identity().Key)
	}
	return out
}

func (suite *DiscovererTestSuite) TestReportsEachAddressOnce() {
	suite.scanner.sightings = []discovery.Sighting{
		{Address: "AA:BB:CC:DD:EE:FF", Name: "GNSS", Connectable: true, RSSI: -40},
		{Address: "aa:bb:cc:dd:ee:ff", Name: "GNSS", Connectable: true, RSSI: -41},
		{Address: "11:22:33:44:55:66", Connectable: true, RSSI: -70},
	}

	err := suite.newDiscoverer(nil).Discover(context.Background(), suite.collect)
	suite.Require().NoError(err)
	suite.Equal([]string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}, suite.keys())
}

func (suite *DiscovererTestSuite) TestFilters() {
	uart := blelib.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	battery := blelib.MustParse("180F")

	tests := []struct {
		name string
		opts *discovery.ScanOptions
		want []string
	}{
		{
			name: "non-connectable skipped",
			opts: &discovery.ScanOptions{},
			want: []string{"01", "02", "03"},
		},
		{
			name: "block list",
			opts: &discovery.ScanOptions{BlockList: []string{"02"}},
			want: []string{"01", "03"},
		},
		{
			name: "allow list",
			opts: &discovery.ScanOptions{AllowList: []string{"03"}},
			want: []string{"03"},
		},
		{
			name: "service filter",
			opts: &discovery.ScanOptions{ServiceUUIDs: []blelib.UUID{uart}},
			want: []string{"01"},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.found = nil
			suite.scanner.sightings = []discovery.Sighting{
				{Address: "01", Connectable: true, Services: []blelib.UUID{uart}},
				{Address: "02", Connectable: true, Services: []blelib.UUID{battery}},
				{Address: "03", Connectable: true},
				{Address: "04", Connectable: false, Services: []blelib.UUID{uart}},
			}
			suite.Require().NoError(suite.newDiscoverer(tt.opts).Discover(context.Background(), suite.collect))
			suite.Equal(tt.want, suite.keys())
		})
	}
}

func (suite *DiscovererTestSuite) TestStopsAfterDuration() {
	suite.scanner.wait = true

	start := time.Now()
	err := suite.newDiscoverer(&discovery.ScanOptions{Duration: 30 * time.Millisecond}).
		Discover(context.Background(), suite.collect)

	suite.NoError(err, "scan timeout MUST NOT be an error")
	suite.Less(time.Since(start), time.Second)
}

func (suite *DiscovererTestSuite) TestScanErrorIsReturned() {
	suite.scanner.err = errors.New("hci: command disallowed")
	err := suite.newDiscoverer(nil).Discover(context.Background(), suite.collect)
	suite.ErrorContains(err, "command disallowed")
}

func (suite *DiscovererTestSuite) TestAvailability() {
	suite.True(suite.newDiscoverer(nil).Available())

	discovery.ScannerFactory = func() (discovery.Scanner, error) {
		return nil, device.ErrBluetoothOff
	}
	d := suite.newDiscoverer(nil)
	suite.False(d.Available())
	suite.ErrorIs(d.Discover(context.Background(), suite.collect), device.ErrBluetoothOff)
}

func TestDiscovererTestSuite(t *testing.T) {
	suite.Run(t, new(DiscovererTestSuite))
}
