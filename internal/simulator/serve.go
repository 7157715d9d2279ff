package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Serve answers commands arriving on port until ctx is done or the port
// fails. A read that returns no data, with or without io.EOF, is treated as
// a read timeout.
func (inv *Inverter) Serve(ctx context.Context, port io.ReadWriter) error {
	buf := make([]byte, 256)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		if n > 0 {
			if _, werr := inv.Write(buf[:n]); werr != nil {
				return werr
			}
			if derr := inv.drainTo(port); derr != nil {
				return derr
			}
		}

		switch {
		case err == nil, errors.Is(err, io.EOF):
			if n == 0 {
				time.Sleep(time.Millisecond)
			}
		default:
			return fmt.Errorf("failed to read from port: %w", err)
		}
	}
}

// drainTo copies every queued response to w.
func (inv *Inverter) drainTo(w io.Writer) error {
	buf := make([]byte, 256)
	for {
		n, err := inv.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write response: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
