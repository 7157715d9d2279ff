// Package pvoutput provides the PVOutput.org monitoring service implementation.
package pvoutput

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/resident-x/go-axpert/internal/config"
	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultEndpoint is the PVOutput add status service.
const DefaultEndpoint = "https://pvoutput.org/service/r2/addstatus.jsp"

// NoopClient is a no-operation implementation of the MonitoringService interface.
type NoopClient struct{}

// NewNoopClient creates a new no-operation PVOutput client.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// Send is a no-op for the NoopClient.
func (c *NoopClient) Send(_ context.Context, _ *domain.GeneralStatus) error {
	return nil
}

// Connect is a no-op for the NoopClient.
func (c *NoopClient) Connect() error {
	return nil
}

// Close is a no-op for the NoopClient.
func (c *NoopClient) Close() error {
	return nil
}

// Client implements the MonitoringService interface for PVOutput.org.
type Client struct {
	config     *config.Config
	httpClient *http.Client
	endpoint   string
	now        func() time.Time
	lastUpdate time.Time
	mutex      sync.Mutex
	logger     zerolog.Logger
}

// NewClient creates a new PVOutput client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   DefaultEndpoint,
		now:        time.Now,
		logger:     log.With().Str("component", "pvoutput").Logger(),
	}
}

// Connect establishes a connection to the service.
// For PVOutput, this is a no-op as each request is independent.
func (c *Client) Connect() error {
	return nil
}

// Send posts the reading as a live status update. Updates closer together
// than update_limit_minutes are skipped without error.
func (c *Client) Send(ctx context.Context, status *domain.GeneralStatus) error {
	// If PVOutput is disabled, do nothing
	if !c.config.PVOutput.Enabled {
		return nil
	}

	// Check required configuration
	if c.config.PVOutput.APIKey == "" || c.config.PVOutput.SystemID == "" {
		return fmt.Errorf("PVOutput API key and/or System ID not configured")
	}

	if status == nil {
		return fmt.Errorf("cannot send nil general status")
	}

	if !c.canUpdate() {
		c.logger.Debug().Msg("Skipping update due to rate limit")
		return nil
	}

	if err := c.makeRequest(ctx, c.buildParams(status)); err != nil {
		return err
	}

	c.updateTimestamp()
	return nil
}

// buildParams maps a reading onto the addstatus parameters:
// v2 power generation, v5 temperature and v6 voltage.
func (c *Client) buildParams(status *domain.GeneralStatus) url.Values {
	now := c.now()

	params := url.Values{}
	params.Set("d", now.Format("20060102"))
	params.Set("t", now.Format("15:04"))

	params.Set("v2", strconv.FormatFloat(float64(status.PVInputPower()), 'f', 0, 32))

	if c.config.PVOutput.UseInverterTemp {
		params.Set("v5", strconv.FormatFloat(float64(status.InverterHeatSinkTemperature), 'f', 1, 64))
	}

	if status.GridVoltage > 0 {
		params.Set("v6", strconv.FormatFloat(float64(status.GridVoltage), 'f', 1, 32))
	}

	return params
}

// makeRequest makes an HTTP POST request to PVOutput API.
func (c *Client) makeRequest(ctx context.Context, params url.Values) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.endpoint,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return fmt.Errorf("failed to create PVOutput request: %w", err)
	}

	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("X-Pvoutput-Apikey", c.config.PVOutput.APIKey)
	req.Header.Add("X-Pvoutput-SystemId", c.config.PVOutput.SystemID)
	req.Header.Add("X-Rate-Limit", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PVOutput request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Closing response body in defer, error not critical
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("PVOutput returned status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// Close terminates the connection to the service.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// canUpdate checks if an update is allowed based on rate limiting.
func (c *Client) canUpdate() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.lastUpdate.IsZero() {
		return true
	}

	updateInterval := time.Duration(c.config.PVOutput.UpdateLimitMinutes) * time.Minute
	return c.now().Sub(c.lastUpdate) >= updateInterval
}

// updateTimestamp records when an update was made.
func (c *Client) updateTimestamp() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastUpdate = c.now()
}
