package pubsub

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/resident-x/go-axpert/internal/config"
	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	_ domain.MessagePublisher = (*MQTTPublisher)(nil)
	_ domain.MessagePublisher = (*NoopPublisher)(nil)
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Topic = "energy/axpert"
	return cfg
}

func testReading() *domain.Reading {
	return &domain.Reading{
		Status: &domain.GeneralStatus{
			GridVoltage:     230.4,
			BatteryCapacity: 85,
			PVInputVoltage:  200,
			PVInputCurrent:  2.5,
		},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// publishedPayloads collects payloads of Publish calls by topic.
func publishedPayloads(client *MockClient) map[string][]byte {
	out := make(map[string][]byte)
	for _, call := range client.Calls {
		if call.Method != "Publish" {
			continue
		}
		topic := call.Arguments.String(0)
		switch p := call.Arguments.Get(3).(type) {
		case []byte:
			out[topic] = p
		case string:
			out[topic] = []byte(p)
		}
	}
	return out
}

func TestNoopPublisher(t *testing.T) {
	publisher := NewNoopPublisher()
	require.NotNil(t, publisher)

	ctx := context.Background()
	assert.NoError(t, publisher.Connect(ctx))
	assert.NoError(t, publisher.Publish(ctx, "test/topic", map[string]interface{}{"test": "data"}))
	assert.NoError(t, publisher.Close())
}

func TestNewMQTTPublisher(t *testing.T) {
	cfg := testConfig()

	publisher := NewMQTTPublisher(cfg)
	assert.NotNil(t, publisher)
	assert.Equal(t, cfg, publisher.config)
	assert.False(t, publisher.connected)
	assert.Nil(t, publisher.client)
}

func TestMQTTPublisher_ClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Host = "broker.local"
	cfg.MQTT.Port = 1884
	cfg.MQTT.Username = "user"
	cfg.MQTT.Password = "pass"
	cfg.MQTT.ClientID = "axpert-test"

	opts := NewMQTTPublisher(cfg).clientOptions()

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.local:1884", opts.Servers[0].Host)
	assert.Equal(t, "axpert-test", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pass", opts.Password)
	assert.False(t, opts.WillEnabled)
}

func TestMQTTPublisher_ClientOptions_WillWithDiscovery(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = true

	opts := NewMQTTPublisher(cfg).clientOptions()
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "energy/axpert/availability", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillPayload)
}

func TestMQTTPublisher_Connect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Enabled = false

	publisher := NewMQTTPublisher(cfg)
	assert.NoError(t, publisher.Connect(context.Background()))
	assert.False(t, publisher.connected)
}

func TestMQTTPublisher_Connect_Successful(t *testing.T) {
	client := new(MockClient)
	client.On("Connect").Return(completedToken(nil))

	publisher := NewMQTTPublisherWithClient(testConfig(), client)

	require.NoError(t, publisher.Connect(context.Background()))
	assert.True(t, publisher.isConnected())
	client.AssertExpectations(t)
}

func TestMQTTPublisher_Connect_Error(t *testing.T) {
	client := new(MockClient)
	client.On("Connect").Return(completedToken(assert.AnError))

	publisher := NewMQTTPublisherWithClient(testConfig(), client)

	err := publisher.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, publisher.isConnected())
}

func TestMQTTPublisher_Connect_ContextCancelled(t *testing.T) {
	client := new(MockClient)
	client.On("Connect").Return(pendingToken())

	publisher := NewMQTTPublisherWithClient(testConfig(), client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := publisher.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, publisher.isConnected())
}

func TestMQTTPublisher_Publish_NotConnected(t *testing.T) {
	client := new(MockClient)
	publisher := NewMQTTPublisherWithClient(testConfig(), client)

	assert.NoError(t, publisher.Publish(context.Background(), "energy/axpert", testReading()))
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMQTTPublisher_Publish_Generic(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Retain = true

	client := new(MockClient)
	client.On("Publish", "energy/axpert/mode", byte(0), true, mock.Anything).Return(completedToken(nil))

	publisher := NewMQTTPublisherWithClient(cfg, client)
	publisher.connected = true

	mode := domain.ModeReading{Mode: domain.ModeBattery, Code: "B"}
	require.NoError(t, publisher.Publish(context.Background(), "energy/axpert/mode", mode))

	payload := publishedPayloads(client)["energy/axpert/mode"]
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "battery", decoded["mode"])
	assert.Equal(t, "B", decoded["code"])
}

func TestMQTTPublisher_Publish_Reading(t *testing.T) {
	client := new(MockClient)
	client.On("Publish", "energy/axpert", byte(0), false, mock.Anything).Return(completedToken(nil))

	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	require.NoError(t, publisher.Publish(context.Background(), "energy/axpert", testReading()))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(publishedPayloads(client)["energy/axpert"], &decoded))
	assert.InDelta(t, 230.4, decoded["grid_voltage"], 0.001)
	assert.Equal(t, float64(85), decoded["battery_capacity"])
	assert.Equal(t, float64(500), decoded["pv_input_power"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["timestamp"])
}

func TestMQTTPublisher_Publish_ReadingWithoutStatus(t *testing.T) {
	client := new(MockClient)
	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	assert.NoError(t, publisher.Publish(context.Background(), "energy/axpert", &domain.Reading{}))
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMQTTPublisher_Publish_Error(t *testing.T) {
	client := new(MockClient)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(completedToken(assert.AnError))

	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	err := publisher.Publish(context.Background(), "test/topic", map[string]string{"test": "data"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish message")
}

func TestMQTTPublisher_Publish_Timeout(t *testing.T) {
	client := new(MockClient)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pendingToken())

	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := publisher.Publish(ctx, "test/topic", map[string]string{"test": "data"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMQTTPublisher_Publish_InvalidData(t *testing.T) {
	client := new(MockClient)
	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	err := publisher.Publish(context.Background(), "test/topic", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal data to JSON")
}

func TestMQTTPublisher_HomeAssistantDiscovery(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = true

	client := new(MockClient)
	client.On("Connect").Return(completedToken(nil))
	client.On("Publish", mock.Anything, byte(0), mock.Anything, mock.Anything).Return(completedToken(nil))

	publisher := NewMQTTPublisherWithClient(cfg, client)
	require.NoError(t, publisher.Connect(context.Background()))
	require.NotNil(t, publisher.haDiscovery)

	require.NoError(t, publisher.Publish(context.Background(), "energy/axpert", testReading()))

	payloads := publishedPayloads(client)
	var discovery int
	for topic := range payloads {
		if strings.HasPrefix(topic, "homeassistant/sensor/axpert_1/") {
			discovery++
		}
	}
	assert.Equal(t, len(publisher.haDiscovery.GenerateDiscoveryMessages()), discovery)
	assert.Equal(t, []byte("online"), payloads["energy/axpert/availability"])
	assert.Contains(t, payloads, "energy/axpert")

	// discovery is sent once per connection
	calls := len(client.Calls)
	require.NoError(t, publisher.Publish(context.Background(), "energy/axpert", testReading()))
	assert.Equal(t, calls+1, len(client.Calls))

	// a reconnect triggers it again
	publisher.onConnect(client)
	require.NoError(t, publisher.Publish(context.Background(), "energy/axpert", testReading()))
	assert.Greater(t, len(client.Calls), calls+2)
}

func TestMQTTPublisher_ConnectionLost(t *testing.T) {
	client := new(MockClient)
	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	publisher.onConnectionLost(client, assert.AnError)
	assert.False(t, publisher.isConnected())

	assert.NoError(t, publisher.Publish(context.Background(), "energy/axpert", testReading()))
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMQTTPublisher_Close_NotConnected(t *testing.T) {
	publisher := NewMQTTPublisher(testConfig())
	assert.NoError(t, publisher.Close())
}

func TestMQTTPublisher_Close_WithClient(t *testing.T) {
	client := new(MockClient)
	client.On("Disconnect", uint(250)).Return()

	publisher := NewMQTTPublisherWithClient(testConfig(), client)
	publisher.connected = true

	require.NoError(t, publisher.Close())
	assert.False(t, publisher.isConnected())
	client.AssertExpectations(t)
}

func TestMQTTPublisher_Close_PublishesOffline(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = true

	client := new(MockClient)
	client.On("Connect").Return(completedToken(nil))
	client.On("Publish", "energy/axpert/availability", byte(0), true, "offline").Return(completedToken(nil))
	client.On("Disconnect", uint(250)).Return()

	publisher := NewMQTTPublisherWithClient(cfg, client)
	require.NoError(t, publisher.Connect(context.Background()))
	require.NoError(t, publisher.Close())

	client.AssertExpectations(t)
}
