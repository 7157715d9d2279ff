// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/resident-x/go-axpert/internal/config"
	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/resident-x/go-axpert/internal/homeassistant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// NoopPublisher is a no-operation implementation of the MessagePublisher interface.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// Publish is a no-op for the NoopPublisher.
func (p *NoopPublisher) Publish(_ context.Context, _ string, _ interface{}) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT.
//
// Readings (*domain.Reading) are published as a flat JSON report and, when
// Home Assistant discovery is enabled, preceded once per connection by the
// discovery messages. Mode readings and any other value are published as
// plain JSON.
type MQTTPublisher struct {
	config        *config.Config
	client        mqtt.Client
	clientFactory func(*mqtt.ClientOptions) mqtt.Client
	haDiscovery   *homeassistant.AutoDiscovery
	logger        zerolog.Logger

	mu                 sync.Mutex
	connected          bool
	discoveryPublished bool
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:        cfg,
		clientFactory: mqtt.NewClient,
		logger:        log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	p := NewMQTTPublisher(cfg)
	p.client = client
	return p
}

// clientOptions builds the paho options, including handlers that reset
// discovery state on reconnect.
func (p *MQTTPublisher) clientOptions() *mqtt.ClientOptions {
	clientID := p.config.MQTT.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("go-axpert-%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.MQTT.Host, p.config.MQTT.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetWriteTimeout(publishTimeout).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.config.MQTT.HomeAssistantAutoDiscovery.Enabled {
		opts.SetWill(p.availabilityTopic(), "offline", 0, true)
	}

	// Set credentials if provided
	if p.config.MQTT.Username != "" {
		opts.SetUsername(p.config.MQTT.Username)
		opts.SetPassword(p.config.MQTT.Password)
	}

	return opts
}

func (p *MQTTPublisher) onConnect(_ mqtt.Client) {
	p.mu.Lock()
	p.connected = true
	p.discoveryPublished = false
	p.mu.Unlock()

	p.logger.Info().Msg("MQTT connection established")
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *MQTTPublisher) availabilityTopic() string {
	return p.config.MQTT.Topic + "/availability"
}

// Connect establishes a connection to the MQTT broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	// If MQTT is disabled, do nothing
	if !p.config.MQTT.Enabled {
		return nil
	}

	if p.config.MQTT.HomeAssistantAutoDiscovery.Enabled && p.haDiscovery == nil {
		if err := p.setupHomeAssistantDiscovery(); err != nil {
			return fmt.Errorf("failed to setup Home Assistant discovery: %w", err)
		}
	}

	// Create client if not already set (for testing)
	if p.client == nil {
		p.client = p.clientFactory(p.clientOptions())
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	connToken := p.client.Connect()

	// Wait for connection or context timeout
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: %w", connectCtx.Err())
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.logger.Info().
		Str("host", p.config.MQTT.Host).
		Int("port", p.config.MQTT.Port).
		Msg("Connected to MQTT broker")

	return nil
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Publish sends data to the specified topic.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, data interface{}) error {
	if !p.config.MQTT.Enabled || !p.isConnected() {
		return nil
	}

	switch v := data.(type) {
	case *domain.Reading:
		return p.publishReading(ctx, topic, v)
	case domain.Reading:
		return p.publishReading(ctx, topic, &v)
	default:
		return p.publishGeneric(ctx, topic, data, p.config.MQTT.Retain)
	}
}

// publishGeneric handles simple JSON publishing.
func (p *MQTTPublisher) publishGeneric(ctx context.Context, topic string, data interface{}, retain bool) error {
	var payload []byte
	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data to JSON: %w", err)
		}
		payload = jsonData
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	token := p.client.Publish(topic, 0, retain, payload)

	// Wait for publication or context timeout
	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish to %s: %w", topic, publishCtx.Err())
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message: %w", token.Error())
		}
	}

	return nil
}

func (p *MQTTPublisher) publishReading(ctx context.Context, topic string, reading *domain.Reading) error {
	if reading.Status == nil {
		p.logger.Debug().Msg("Skipping publish: reading has no status")
		return nil
	}

	if p.haDiscovery != nil {
		if err := p.publishHomeAssistantDiscovery(ctx); err != nil {
			return fmt.Errorf("failed to publish Home Assistant discovery: %w", err)
		}
	}

	if err := p.publishGeneric(ctx, topic, reading.Report(), p.config.MQTT.Retain); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}

	p.logger.Debug().Str("topic", topic).Msg("Published general status")
	return nil
}

// setupHomeAssistantDiscovery initializes Home Assistant auto-discovery.
func (p *MQTTPublisher) setupHomeAssistantDiscovery() error {
	ha := p.config.MQTT.HomeAssistantAutoDiscovery
	haConfig := homeassistant.Config{
		Enabled:            ha.Enabled,
		DiscoveryPrefix:    ha.DiscoveryPrefix,
		DeviceName:         ha.DeviceName,
		DeviceManufacturer: ha.DeviceManufacturer,
		DeviceModel:        ha.DeviceModel,
		RetainDiscovery:    ha.RetainDiscovery,
		IncludeDiagnostic:  ha.IncludeDiagnostic,
	}

	var err error
	p.haDiscovery, err = homeassistant.New(haConfig, p.config.MQTT.Topic, p.config.Inverter.ID)
	return err
}

// publishHomeAssistantDiscovery publishes discovery messages once per
// connection, followed by the availability message.
func (p *MQTTPublisher) publishHomeAssistantDiscovery(ctx context.Context) error {
	p.mu.Lock()
	done := p.discoveryPublished
	p.mu.Unlock()
	if done {
		return nil
	}

	retain := p.config.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery
	for topic, message := range p.haDiscovery.GenerateDiscoveryMessages() {
		if err := p.publishGeneric(ctx, topic, message, retain); err != nil {
			return fmt.Errorf("failed to publish discovery message to %s: %w", topic, err)
		}
	}

	availTopic := p.haDiscovery.GetAvailabilityTopic()
	if err := p.publishGeneric(ctx, availTopic, p.haDiscovery.CreateAvailabilityMessage(true), true); err != nil {
		return fmt.Errorf("failed to publish availability message: %w", err)
	}

	p.mu.Lock()
	p.discoveryPublished = true
	p.mu.Unlock()

	p.logger.Info().Msg("Published Home Assistant discovery messages")
	return nil
}

// Close terminates the connection to the MQTT broker.
func (p *MQTTPublisher) Close() error {
	if p.client == nil || !p.isConnected() {
		return nil
	}

	if p.haDiscovery != nil {
		token := p.client.Publish(p.haDiscovery.GetAvailabilityTopic(), 0, true, p.haDiscovery.CreateAvailabilityMessage(false))
		token.WaitTimeout(time.Second)
	}

	p.client.Disconnect(250) // Disconnect with 250ms timeout

	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}
