//go:build !linux

package serial

import (
	"fmt"
	"io"

	"github.com/srg/posdev/internal/device"
)

func portName(n int) string {
	return fmt.Sprintf("COM%d:", n)
}

func openPort(path string, baud int) (io.ReadCloser, error) {
	return nil, fmt.Errorf("serial ports on this platform: %w", device.ErrUnsupported)
}
