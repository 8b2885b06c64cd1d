package device_test

import (
	"testing"

	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func keys(devs []device.Device) []string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.Identity().Key
	}
	return out
}

func TestBestDeviceComparator(t *testing.T) {
	tests := []struct {
		name     string
		devices  []device.Device
		expected []string
	}{
		{
			name: "open devices rank before closed ones",
			devices: []device.Device{
				testutils.NewFakeDevice(device.KindSerial, "COM1:"),
				testutils.NewFakeDevice(device.KindSerial, "COM2:", testutils.Opened()),
			},
			expected: []string{"COM2:", "COM1:"},
		},
		{
			name: "open beats reliability",
			devices: []device.Device{
				testutils.NewFakeDevice(device.KindSerial, "COM1:", testutils.WithReliability(100, 0)),
				testutils.NewFakeDevice(device.KindSerial, "COM2:", testutils.Opened(), testutils.WithReliability(0, 100)),
			},
			expected: []string{"COM2:", "COM1:"},
		},
		{
			name: "higher reliability first among closed devices",
			devices: []device.Device{
				testutils.NewFakeDevice(device.KindSerial, "COM1:", testutils.WithReliability(1, 3)),
				testutils.NewFakeDevice(device.KindWireless, "AA:BB", testutils.WithReliability(3, 1)),
			},
			expected: []string{"AA:BB", "COM1:"},
		},
		{
			name: "ties keep discovery order",
			devices: []device.Device{
				testutils.NewFakeDevice(device.KindSerial, "COM7:"),
				testutils.NewFakeDevice(device.KindSerial, "COM2:"),
				testutils.NewFakeDevice(device.KindSerial, "COM5:"),
			},
			expected: []string{"COM7:", "COM2:", "COM5:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device.Rank(tt.devices, nil)
			assert.Equal(t, tt.expected, keys(tt.devices))
		})
	}
}

func TestReliability_Score(t *testing.T) {
	assert.Zero(t, device.Reliability{}.Score())
	assert.InDelta(t, 0.75, device.Reliability{Successes: 3, Failures: 1}.Score(), 1e-9)
}

func TestIdentity_Equal(t *testing.T) {
	assert.True(t, device.Identity{Kind: device.KindSerial, Key: "COM3:"}.Equal(device.Identity{Kind: device.KindSerial, Key: "com3:"}))
	assert.False(t, device.Identity{Kind: device.KindSerial, Key: "COM3"}.Equal(device.Identity{Kind: device.KindSerial, Key: "COM3:"}))
	assert.False(t, device.Identity{Kind: device.KindSerial, Key: "X"}.Equal(device.Identity{Kind: device.KindWireless, Key: "X"}))
}
