package goble

import (
	"errors"
	"testing"

	"github.com/srg/posdev/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"turned off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"linux hci missing", errors.New("can't init hci: no devices available"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotOpen},
		{"disconnected", errors.New("peripheral disconnected"), device.ErrNotOpen},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.in.Error(), "original message MUST be kept")
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("unknown passes through", func(t *testing.T) {
		orig := errors.New("att: invalid handle")
		assert.Same(t, orig, NormalizeError(orig))
	})
}
