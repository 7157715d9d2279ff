package influxdb

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the InfluxDB connection settings.
type Config struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	InverterID string
	Timeout    time.Duration
}

// NoopWriter is a no-operation implementation of the TelemetryWriter interface.
type NoopWriter struct{}

// NewNoopWriter creates a new no-operation writer.
func NewNoopWriter() *NoopWriter {
	return &NoopWriter{}
}

// Write is a no-op for the NoopWriter.
func (w *NoopWriter) Write(_ context.Context, _ *domain.GeneralStatus) error {
	return nil
}

// Close is a no-op for the NoopWriter.
func (w *NoopWriter) Close() error {
	return nil
}

// Writer implements the TelemetryWriter interface for InfluxDB 2.x
// (and 1.8+ through its v2 compatibility API).
type Writer struct {
	client     influxdb2.Client
	writeAPI   api.WriteAPIBlocking
	inverterID string
	timeout    time.Duration
	logger     zerolog.Logger
}

// requestTimeoutSeconds converts d to the whole seconds the client expects,
// rounding up so that a sub-second timeout never becomes "no timeout".
func requestTimeoutSeconds(d time.Duration) uint {
	seconds := (d + time.Second - 1) / time.Second
	if seconds < 1 {
		seconds = 1
	}
	return uint(seconds)
}

// NewWriter creates a new InfluxDB writer.
func NewWriter(cfg Config) *Writer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	inverterID := cfg.InverterID
	if inverterID == "" {
		inverterID = DefaultInverterID
	}

	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(requestTimeoutSeconds(timeout))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Writer{
		client:     client,
		writeAPI:   client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		inverterID: inverterID,
		timeout:    timeout,
		logger:     log.With().Str("component", "influxdb").Logger(),
	}
}

// Write sends a single reading as one line-protocol record.
func (w *Writer) Write(ctx context.Context, status *domain.GeneralStatus) error {
	if status == nil {
		return fmt.Errorf("cannot write nil general status")
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	line := FormatGeneralStatusWithID(status, w.inverterID)
	if err := w.writeAPI.WriteRecord(ctx, line); err != nil {
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}

	w.logger.Debug().Str("line", line).Msg("Wrote general status")
	return nil
}

// Close releases the underlying HTTP client.
func (w *Writer) Close() error {
	w.client.Close()
	return nil
}
