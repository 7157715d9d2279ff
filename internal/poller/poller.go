// Package poller drives the periodic inquiries sent to the inverter and fans
// decoded readings out to the configured sinks.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/resident-x/go-axpert/internal/protocol"
	"github.com/rs/zerolog"
)

// Config holds configuration for the poller.
type Config struct {
	PollInterval    time.Duration
	ModeInterval    time.Duration
	ExchangeTimeout time.Duration
	// Topic is the MQTT topic for readings; mode changes go to Topic + "/mode".
	Topic         string
	StrictFraming bool
}

// DefaultConfig returns a default poller configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    10 * time.Second,
		ModeInterval:    time.Minute,
		ExchangeTimeout: 3 * time.Second,
		Topic:           "energy/axpert",
	}
}

// Sinks are the destinations for decoded readings. Nil sinks are skipped.
type Sinks struct {
	Writer    domain.TelemetryWriter
	Publisher domain.MessagePublisher
	Monitor   domain.MonitoringService
}

// Poller manages the inquiry loops against a single inverter.
type Poller struct {
	transport domain.Transport
	sinks     Sinks
	store     *domain.StateStore
	builder   *protocol.CommandBuilder
	decoder   *protocol.ResponseDecoder
	config    *Config
	logger    zerolog.Logger

	stopChan  chan struct{}
	wg        sync.WaitGroup
	isRunning bool
	mutex     sync.RWMutex

	// Metrics
	pollsTotal        int64
	pollsSucceeded    int64
	modePolls         int64
	decodeFailures    int64
	transportFailures int64
	sinkFailures      int64
	lastPoll          atomic.Int64
}

// New creates a poller. A nil config uses DefaultConfig and a nil store
// gets a fresh one.
func New(
	transport domain.Transport,
	sinks Sinks,
	store *domain.StateStore,
	config *Config,
	logger zerolog.Logger,
) *Poller {
	if config == nil {
		config = DefaultConfig()
	}
	if store == nil {
		store = domain.NewStateStore()
	}

	return &Poller{
		transport: transport,
		sinks:     sinks,
		store:     store,
		builder:   protocol.NewCommandBuilder(),
		decoder:   protocol.NewResponseDecoder(config.StrictFraming),
		config:    config,
		logger:    logger.With().Str("component", "poller").Logger(),
	}
}

// Start reads the rating information once and begins the status and mode
// loops. The first status and mode polls run immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isRunning {
		return fmt.Errorf("poller is already running")
	}
	if p.config.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.config.PollInterval)
	}

	p.stopChan = make(chan struct{})
	p.isRunning = true

	p.wg.Add(1)
	go p.statusLoop(ctx)

	if p.config.ModeInterval > 0 {
		p.wg.Add(1)
		go p.modeLoop(ctx)
	}

	p.logger.Info().
		Dur("poll_interval", p.config.PollInterval).
		Dur("mode_interval", p.config.ModeInterval).
		Bool("strict_framing", p.config.StrictFraming).
		Msg("Poller started")

	return nil
}

// Stop shuts down the poller and waits for in-flight polls to finish.
func (p *Poller) Stop() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.isRunning {
		return fmt.Errorf("poller is not running")
	}

	close(p.stopChan)
	p.wg.Wait()
	p.isRunning = false

	p.logger.Info().Msg("Poller stopped")
	return nil
}

// Latest returns the most recent successfully decoded reading.
func (p *Poller) Latest() (domain.Reading, bool) {
	return p.store.Latest()
}

// Store exposes the state shared with the API.
func (p *Poller) Store() *domain.StateStore {
	return p.store
}

// PollOnce sends a general status inquiry, decodes the answer and delivers
// it to every sink. Sink failures are logged and counted but do not fail the
// poll.
func (p *Poller) PollOnce(ctx context.Context) (domain.Reading, error) {
	atomic.AddInt64(&p.pollsTotal, 1)
	p.lastPoll.Store(time.Now().UnixNano())

	resp, err := p.exchange(ctx, protocol.GeneralStatusInquiry)
	if err != nil {
		return domain.Reading{}, err
	}

	status, err := p.decoder.DecodeGeneralStatus(resp)
	if err != nil {
		atomic.AddInt64(&p.decodeFailures, 1)
		return domain.Reading{}, fmt.Errorf("failed to decode general status: %w", err)
	}

	reading := domain.Reading{Status: status, Timestamp: time.Now()}
	p.store.SetReading(reading)
	atomic.AddInt64(&p.pollsSucceeded, 1)

	p.logger.Debug().
		Float32("grid_voltage", status.GridVoltage).
		Uint16("battery_capacity", status.BatteryCapacity).
		Float32("pv_input_power", status.PVInputPower()).
		Msg("General status decoded")

	p.dispatch(ctx, reading)
	return reading, nil
}

// PollMode sends a mode inquiry and publishes the mode when it differs from
// the last one seen.
func (p *Poller) PollMode(ctx context.Context) (domain.ModeReading, error) {
	atomic.AddInt64(&p.modePolls, 1)

	resp, err := p.exchange(ctx, protocol.ModeInquiry)
	if err != nil {
		return domain.ModeReading{}, err
	}

	mode, code, err := p.decoder.DecodeMode(resp)
	if err != nil {
		atomic.AddInt64(&p.decodeFailures, 1)
		return domain.ModeReading{}, fmt.Errorf("failed to decode mode: %w", err)
	}

	reading := domain.ModeReading{Mode: mode, Code: code, Timestamp: time.Now()}
	if !p.store.SetMode(reading) {
		return reading, nil
	}

	p.logger.Info().Str("mode", string(mode)).Str("code", code).Msg("Inverter mode changed")

	if p.sinks.Publisher != nil {
		if err := p.sinks.Publisher.Publish(ctx, p.config.Topic+"/mode", reading); err != nil {
			atomic.AddInt64(&p.sinkFailures, 1)
			p.logger.Error().Err(err).Msg("Failed to publish mode")
		}
	}

	return reading, nil
}

// ReadRating sends a rating information inquiry and keeps the validated
// payload.
func (p *Poller) ReadRating(ctx context.Context) (string, error) {
	resp, err := p.exchange(ctx, protocol.RatingInformation)
	if err != nil {
		return "", err
	}

	rating, err := p.decoder.DecodeRatingInformation(resp)
	if err != nil {
		atomic.AddInt64(&p.decodeFailures, 1)
		return "", fmt.Errorf("failed to decode rating information: %w", err)
	}

	p.store.SetRating(rating)
	p.logger.Info().Str("rating", rating).Msg("Rating information received")
	return rating, nil
}

// GetMetrics returns current poller metrics.
func (p *Poller) GetMetrics() map[string]interface{} {
	p.mutex.RLock()
	running := p.isRunning
	p.mutex.RUnlock()

	metrics := map[string]interface{}{
		"is_running":         running,
		"polls_total":        atomic.LoadInt64(&p.pollsTotal),
		"polls_succeeded":    atomic.LoadInt64(&p.pollsSucceeded),
		"mode_polls":         atomic.LoadInt64(&p.modePolls),
		"decode_failures":    atomic.LoadInt64(&p.decodeFailures),
		"transport_failures": atomic.LoadInt64(&p.transportFailures),
		"sink_failures":      atomic.LoadInt64(&p.sinkFailures),
	}
	if last := p.lastPoll.Load(); last != 0 {
		metrics["last_poll"] = time.Unix(0, last).UTC()
	}
	return metrics
}

func (p *Poller) exchange(ctx context.Context, cmd protocol.Command) ([]byte, error) {
	exchangeCtx := ctx
	if p.config.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, p.config.ExchangeTimeout)
		defer cancel()
	}

	resp, err := p.transport.Exchange(exchangeCtx, p.builder.BuildFrame(cmd))
	if err != nil {
		atomic.AddInt64(&p.transportFailures, 1)
		return nil, fmt.Errorf("%s exchange failed: %w", cmd.Mnemonic(), err)
	}
	return resp, nil
}

// dispatch delivers a reading to the sinks in order.
func (p *Poller) dispatch(ctx context.Context, reading domain.Reading) {
	if p.sinks.Writer != nil {
		if err := p.sinks.Writer.Write(ctx, reading.Status); err != nil {
			atomic.AddInt64(&p.sinkFailures, 1)
			p.logger.Error().Err(err).Msg("Failed to write reading to InfluxDB")
		}
	}

	if p.sinks.Publisher != nil {
		if err := p.sinks.Publisher.Publish(ctx, p.config.Topic, &reading); err != nil {
			atomic.AddInt64(&p.sinkFailures, 1)
			p.logger.Error().Err(err).Msg("Failed to publish reading")
		}
	}

	if p.sinks.Monitor != nil {
		if err := p.sinks.Monitor.Send(ctx, reading.Status); err != nil {
			atomic.AddInt64(&p.sinkFailures, 1)
			p.logger.Error().Err(err).Msg("Failed to send reading to PVOutput")
		}
	}
}

// statusLoop reads the rating once, then polls general status until stopped.
func (p *Poller) statusLoop(ctx context.Context) {
	defer p.wg.Done()

	if _, err := p.ReadRating(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to read rating information")
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Poll failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
		}
	}
}

// modeLoop polls the operating mode until stopped.
func (p *Poller) modeLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ModeInterval)
	defer ticker.Stop()

	for {
		if _, err := p.PollMode(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Mode poll failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
		}
	}
}
