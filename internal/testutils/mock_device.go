package testutils

import (
	"github.com/srg/posdev/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a testify mock of device.Device for interaction assertions.
type MockDevice struct {
	mock.Mock
}

// NewMockDevice returns a mock with the identity methods pre-wired.
func NewMockDevice(kind device.Kind, key string) *MockDevice {
	m := &MockDevice{}
	m.On("Identity").Return(device.Identity{Kind: kind, Key: key}).Maybe()
	m.On("Name").Return(key).Maybe()
	m.On("Reliability").Return(device.Reliability{}).Maybe()
	m.On("Done").Return((*device.Signal)(nil)).Maybe()
	return m
}

func (m *MockDevice) Identity() device.Identity {
	return m.Called().Get(0).(device.Identity)
}

func (m *MockDevice) Name() string {
	return m.Called().String(0)
}

func (m *MockDevice) Open() error {
	return m.Called().Error(0)
}

func (m *MockDevice) Close() error {
	return m.Called().Error(0)
}

func (m *MockDevice) IsOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockDevice) AllowConnections() bool {
	return m.Called().Bool(0)
}

func (m *MockDevice) BeginDetection(r device.Reporter) {
	m.Called(r)
}

func (m *MockDevice) CancelDetection() {
	m.Called()
}

func (m *MockDevice) Done() *device.Signal {
	return m.Called().Get(0).(*device.Signal)
}

func (m *MockDevice) Reliability() device.Reliability {
	return m.Called().Get(0).(device.Reliability)
}

var _ device.Device = (*MockDevice)(nil)
