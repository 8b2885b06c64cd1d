package goble

import (
	"sync"

	"github.com/go-ble/ble"
)

var (
	sharedMu sync.Mutex
	shared   ble.Device
)

// SharedDevice returns the process-wide BLE adapter, creating it through
// DeviceFactory on first use. Scans and connections share one adapter
// because most HCI stacks refuse a second open.
func SharedDevice() (ble.Device, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	shared = dev
	return dev, nil
}

// ResetSharedDevice stops and forgets the shared adapter.
func ResetSharedDevice() {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		_ = shared.Stop()
	}
	shared = nil
}
