// Package goble reaches positioning receivers over Bluetooth LE using the
// go-ble stack. Receivers are expected to expose the Nordic UART service
// and stream NMEA text over its TX characteristic.
package goble

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/groutine"
	"github.com/srg/posdev/internal/ringchan"
)

const (
	// DefaultChannelBuffer is the number of notifications kept for a slow reader
	DefaultChannelBuffer = 128

	DefaultConnectTimeout = 10 * time.Second
	DefaultProbeWindow    = 5 * time.Second

	// idlePoll bounds how long Read waits before reporting an idle link
	idlePoll = 100 * time.Millisecond
)

var (
	UARTService = ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	UARTTX      = ble.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

// Options configures a WirelessDevice.
type Options struct {
	ConnectTimeout   time.Duration
	ProbeWindow      time.Duration
	AllowConnections bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   DefaultConnectTimeout,
		ProbeWindow:      DefaultProbeWindow,
		AllowConnections: true,
	}
}

// WirelessDevice is a BLE positioning receiver.
type WirelessDevice struct {
	*device.Prober

	address string
	name    string
	opts    Options
	logger  *logrus.Logger

	connMu sync.Mutex // serializes connect and close

	mu      sync.Mutex
	client  ble.Client
	updates *ringchan.RingChannel[[]byte]
	pending []byte
}

// New creates a device for address. rel seeds the detection history.
func New(address, name string, rel device.Reliability, opts Options, logger *logrus.Logger) *WirelessDevice {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ProbeWindow <= 0 {
		opts.ProbeWindow = DefaultProbeWindow
	}
	d := &WirelessDevice{
		address: strings.TrimSpace(address),
		name:    name,
		opts:    opts,
		logger:  logger,
	}
	d.Prober = device.NewProber(d, rel, d.probe, logger)
	return d
}

func (d *WirelessDevice) Identity() device.Identity {
	return device.Identity{Kind: device.KindWireless, Key: d.address}
}

func (d *WirelessDevice) Name() string {
	if d.name == "" {
		return d.address
	}
	return d.name
}

func (d *WirelessDevice) Address() string {
	return d.address
}

func (d *WirelessDevice) AllowConnections() bool {
	return d.opts.AllowConnections
}

func (d *WirelessDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates != nil
}

// Open connects and subscribes to the UART TX characteristic.
func (d *WirelessDevice) Open() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ConnectTimeout)
	defer cancel()
	return d.connect(ctx)
}

func (d *WirelessDevice) connect(ctx context.Context) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.IsOpen() {
		return device.ErrAlreadyOpen
	}

	logger := d.logger.WithField("address", d.address)
	logger.Debug("Connecting to BLE device...")

	dev, err := SharedDevice()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	client, err := dev.Dial(ctx, ble.NewAddr(d.address))
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", d.address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		d.cancelConnection(client)
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	tx := profile.FindCharacteristic(ble.NewCharacteristic(UARTTX))
	if tx == nil {
		d.cancelConnection(client)
		return fmt.Errorf("%w: no UART TX characteristic", device.ErrNotPositioning)
	}

	updates := ringchan.New[[]byte](DefaultChannelBuffer)
	err = client.Subscribe(tx, false, func(data []byte) {
		updates.Send(bytes.Clone(data))
	})
	if err != nil {
		updates.Close()
		d.cancelConnection(client)
		return fmt.Errorf("failed to subscribe to UART TX: %w", NormalizeError(err))
	}

	d.mu.Lock()
	d.client = client
	d.updates = updates
	d.pending = nil
	d.mu.Unlock()

	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-disconnect:"+d.address, func(context.Context) {
			<-dc.Disconnected()
			d.mu.Lock()
			current := d.updates == updates
			d.mu.Unlock()
			if current {
				logger.Warn("BLE device disconnected")
				updates.Close()
			}
		})
	}

	logger.Info("BLE device connected")
	return nil
}

func (d *WirelessDevice) cancelConnection(client ble.Client) {
	if err := client.CancelConnection(); err != nil {
		d.logger.WithField("address", d.address).WithError(err).Debug("Failed to cancel connection")
	}
}

// attach installs a notification stream without a connection.
func (d *WirelessDevice) attach(updates *ringchan.RingChannel[[]byte]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = updates
	d.pending = nil
}

// Read returns notification payloads in arrival order. It returns (0, nil)
// when nothing arrived for a short while and io.EOF once the link is gone.
func (d *WirelessDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		n := copy(p, d.pending)
		d.pending = d.pending[n:]
		d.mu.Unlock()
		return n, nil
	}
	updates := d.updates
	d.mu.Unlock()

	if updates == nil {
		return 0, device.ErrNotOpen
	}

	timer := time.NewTimer(idlePoll)
	defer timer.Stop()

	select {
	case data, ok := <-updates.C():
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, data)
		if n < len(data) {
			d.mu.Lock()
			d.pending = append(d.pending, data[n:]...)
			d.mu.Unlock()
		}
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

// Close drops the connection. Closing a closed device is not an error.
func (d *WirelessDevice) Close() error {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	d.mu.Lock()
	client, updates := d.client, d.updates
	d.client, d.updates, d.pending = nil, nil, nil
	d.mu.Unlock()

	if updates != nil {
		updates.Close()
	}
	if client == nil {
		return nil
	}
	d.logger.WithField("address", d.address).Debug("Disconnecting BLE device")
	return NormalizeError(client.CancelConnection())
}

// probe connects, waits for an NMEA sentence and disconnects. A device the
// application already holds open is confirmed without touching it.
func (d *WirelessDevice) probe(ctx context.Context) error {
	if d.IsOpen() {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	err := d.connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	return device.Sniff(ctx, d, d.opts.ProbeWindow)
}

var _ device.StreamDevice = (*WirelessDevice)(nil)
