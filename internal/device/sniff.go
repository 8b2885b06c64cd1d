package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/smallnest/ringbuffer"
)

const (
	// DefaultSniffBuffer bounds the bytes queued between the transport and
	// the sentence scanner.
	DefaultSniffBuffer = 4096

	// maxSentenceLen is generous; NMEA 0183 caps sentences at 82 characters.
	maxSentenceLen = 256
)

// Sniff reads r until a sentence with a valid NMEA checksum arrives, the
// window elapses, or ctx is canceled. It returns nil on the first valid
// sentence, ErrNotPositioning when the window passes without one, and
// ctx.Err() on cancellation.
//
// Reads returning (0, nil) are treated as an idle line. Readers that block
// must be unblocked by the caller when ctx ends (typically by closing them).
func Sniff(ctx context.Context, r io.Reader, window time.Duration) error {
	deadline := time.Now().Add(window)
	queue := ringbuffer.New(DefaultSniffBuffer)
	chunk := make([]byte, 512)
	var line bytes.Buffer

	drain := func() bool {
		for {
			b, err := queue.ReadByte()
			if err != nil {
				return false
			}
			switch b {
			case '\n', '\r':
				if validSentence(line.Bytes()) {
					return true
				}
				line.Reset()
			default:
				if line.Len() >= maxSentenceLen {
					line.Reset()
				}
				line.WriteByte(b)
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %s", ErrNotPositioning, window)
		}

		n, err := r.Read(chunk)
		pending := chunk[:n]
		for len(pending) > 0 {
			written, werr := queue.Write(pending)
			pending = pending[written:]
			if drain() {
				return nil
			}
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				return werr
			}
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: stream closed", ErrNotPositioning)
			}
			return err
		}
	}
}

// errFramed stops parsing once framing and checksum have been accepted.
var errFramed = errors.New("nmea: framed")

// validSentence accepts any framed sentence with a matching checksum,
// including proprietary and unsupported types.
func validSentence(line []byte) bool {
	start := bytes.IndexAny(line, "$!")
	if start < 0 {
		return false
	}
	parser := nmea.SentenceParser{
		OnBaseSentence: func(*nmea.BaseSentence) error { return errFramed },
	}
	_, err := parser.Parse(string(bytes.TrimSpace(line[start:])))
	return errors.Is(err, errFramed)
}
