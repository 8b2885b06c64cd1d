package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/posdev/internal/device"
	"github.com/srg/posdev/internal/feed"
	"github.com/srg/posdev/internal/navstate"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Open the best positioning device and follow its data",
	Long: `Pick the best detected receiver, detecting first when none is known, open it
and print navigation changes as they arrive. With --raw the NMEA sentences are
copied to stdout unchanged.

The command runs for --duration (0 runs until Ctrl+C) and then prints the
last navigation state.`,
	Args: cobra.NoArgs,
	RunE: runAcquire,
}

var (
	acquireDuration time.Duration
	acquireRaw      bool
	acquireFormat   string
)

const acquireIdlePoll = 50 * time.Millisecond

func init() {
	acquireCmd.Flags().DurationVarP(&acquireDuration, "duration", "d", 10*time.Second, "How long to follow the device (0 for indefinite)")
	acquireCmd.Flags().BoolVar(&acquireRaw, "raw", false, "Copy raw NMEA sentences instead of navigation changes")
	acquireCmd.Flags().StringVarP(&acquireFormat, "format", "f", "table", "Output format of the final state (table, json)")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	if err := validateFormat(acquireFormat); err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := a.detector.Acquire(ctx)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNoDevice
	}
	defer func() {
		if err := d.Close(); err != nil {
			a.logger.WithError(err).WithField("device", d.Name()).Warn("Failed to close device")
		}
	}()

	stream, ok := d.(device.StreamDevice)
	if !ok {
		return fmt.Errorf("%s does not provide a data stream", d.Name())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Using %s (%s)\n", d.Name(), d.Identity())

	runCtx := ctx
	if acquireDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, acquireDuration)
		defer cancel()
	}

	if acquireRaw {
		return ignoreStop(copyStream(runCtx, stream, out))
	}

	state := navstate.New(a.logger)
	unsubscribe := state.Subscribe(func(e navstate.Event) {
		fmt.Fprintln(out, describeNavEvent(e))
	})
	defer unsubscribe()

	if err := ignoreStop(feed.New(state, d, a.logger).Run(runCtx, stream)); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return renderSnapshot(out, state.Snapshot(), acquireFormat)
}

// ignoreStop treats the end of the follow window as success.
func ignoreStop(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// copyStream copies complete lines from r to w until EOF or ctx ends.
func copyStream(ctx context.Context, r io.Reader, w io.Writer) error {
	chunk := make([]byte, 512)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		pending = append(pending, chunk[:n]...)
		if i := bytes.LastIndexByte(pending, '\n'); i >= 0 {
			if _, werr := w.Write(pending[:i+1]); werr != nil {
				return werr
			}
			pending = append(pending[:0], pending[i+1:]...)
		}

		switch {
		case errors.Is(err, io.EOF):
			if len(pending) > 0 {
				_, err = w.Write(append(pending, '\n'))
				return err
			}
			return nil
		case err != nil:
			return err
		case n == 0:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(acquireIdlePoll):
			}
		}
	}
}
