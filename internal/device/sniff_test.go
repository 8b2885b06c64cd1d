package device_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/srg/posdev/internal/device"
	"github.com/stretchr/testify/assert"
)

// idleReader returns (0, nil) forever, like a serial port with no traffic.
type idleReader struct{}

func (idleReader) Read([]byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name    string
		reader  io.Reader
		wantErr error
	}{
		{
			name:   "valid GGA sentence confirms",
			reader: strings.NewReader("garbage\r\n$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76\r\n"),
		},
		{
			name:   "proprietary sentence confirms",
			reader: strings.NewReader("$PUBX,00,092750.00,5321.68020,N,00630.33720,W,61.7,G3,2.1,2.0,0.000,0.00,0.000,,0.92,1.19,0.77,9,0,0*48\r\n"),
		},
		{
			name:   "unsupported sentence type confirms",
			reader: strings.NewReader("$PSRF150,1*3E\r\n"),
		},
		{
			name:    "proprietary sentence with bad checksum is rejected",
			reader:  strings.NewReader("$PSRF150,1*00\r\n"),
			wantErr: device.ErrNotPositioning,
		},
		{
			name:    "bad checksum is rejected",
			reader:  strings.NewReader("$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*00\r\n"),
			wantErr: device.ErrNotPositioning,
		},
		{
			name:    "non NMEA stream is rejected",
			reader:  strings.NewReader("AT+OK\r\nREADY\r\n"),
			wantErr: device.ErrNotPositioning,
		},
		{
			name:    "silent line times out",
			reader:  idleReader{},
			wantErr: device.ErrNotPositioning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := device.Sniff(context.Background(), tt.reader, 50*time.Millisecond)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSniff_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := device.Sniff(ctx, idleReader{}, time.Second)

	assert.ErrorIs(t, err, context.Canceled)
}
