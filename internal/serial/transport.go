// Package serial exchanges command frames with the inverter over a serial line.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-axpert/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tarm "github.com/tarm/serial"
)

// MaxResponseLength bounds a single response, terminator excluded.
const MaxResponseLength = 1024

// Defaults for the inverter UART.
const (
	DefaultBaud        = 2400
	DefaultReadTimeout = 500 * time.Millisecond
)

var (
	// ErrIncompleteWrite is returned when the port accepts fewer bytes than sent.
	ErrIncompleteWrite = errors.New("failed to write full frame")
	// ErrResponseTooLong is returned when no terminator arrives within MaxResponseLength bytes.
	ErrResponseTooLong = errors.New("response exceeds maximum length")
	// ErrClosed is returned by Exchange after Close.
	ErrClosed = errors.New("transport closed")
)

// Port is the subset of a serial port the transport needs.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config holds serial line settings. The line is always 8N1.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Transport serialises request/response exchanges on one port.
type Transport struct {
	mu     sync.Mutex
	port   Port
	closed atomic.Bool
	logger zerolog.Logger
}

// Open opens the configured device and wraps it in a Transport.
func Open(cfg Config) (*Transport, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device not configured")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	t := NewTransport(port)
	t.logger = t.logger.With().Str("device", cfg.Device).Logger()
	t.logger.Info().Int("baud", cfg.Baud).Msg("Serial port opened")
	return t, nil
}

// NewTransport wraps an already open port.
func NewTransport(port Port) *Transport {
	return &Transport{
		port:   port,
		logger: log.With().Str("component", "serial").Logger(),
	}
}

// Exchange sends frame followed by a carriage return and returns the reply
// up to, but not including, the next carriage return. Stale input is
// flushed first. A read that times out with no data is retried until ctx
// is done.
func (t *Transport) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := t.port.Flush(); err != nil {
		return nil, t.portError("failed to flush port", err)
	}

	out := make([]byte, 0, len(frame)+1)
	out = append(out, frame...)
	out = append(out, protocol.Terminator)

	n, err := t.port.Write(out)
	if err != nil {
		return nil, t.portError("failed to write frame", err)
	}
	if n != len(out) {
		return nil, ErrIncompleteWrite
	}

	t.logger.Trace().Str("frame", protocol.FormatCommandHex(frame)).Msg("Frame sent")

	resp, err := t.readResponse(ctx)
	if err != nil {
		return nil, err
	}

	t.logger.Trace().Str("response", protocol.FormatCommandHex(resp)).Msg("Response received")
	return resp, nil
}

func (t *Transport) readResponse(ctx context.Context) ([]byte, error) {
	resp := make([]byte, 0, 128)
	buf := make([]byte, 1)

	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("waiting for response after %d bytes: %w", len(resp), err)
		}

		n, err := t.port.Read(buf)
		if n == 1 {
			if buf[0] == protocol.Terminator {
				return resp, nil
			}
			if len(resp) == MaxResponseLength {
				return nil, ErrResponseTooLong
			}
			resp = append(resp, buf[0])
			continue
		}

		switch {
		case err == nil, errors.Is(err, io.EOF):
			// read timeout, nothing arrived yet
			time.Sleep(time.Millisecond)
		default:
			return nil, t.portError("failed to read response", err)
		}
	}
}

// portError reports ErrClosed for failures caused by a concurrent Close.
func (t *Transport) portError(msg string, err error) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Close closes the underlying port without waiting for an exchange in
// flight; that exchange and any later one fail with ErrClosed.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.port.Close()
}
