// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/sensors.yaml
var sensorsYAML []byte

// Config holds the Home Assistant auto-discovery configuration.
type Config struct {
	Enabled            bool
	DiscoveryPrefix    string
	DeviceName         string
	DeviceManufacturer string
	DeviceModel        string
	RetainDiscovery    bool
	IncludeDiagnostic  bool
}

// SensorConfig represents a sensor configuration from the layouts YAML.
type SensorConfig struct {
	Name              string `yaml:"name"`
	DeviceClass       string `yaml:"device_class,omitempty"`
	UnitOfMeasurement string `yaml:"unit_of_measurement,omitempty"`
	StateClass        string `yaml:"state_class,omitempty"`
	Category          string `yaml:"category"`
	Icon              string `yaml:"icon,omitempty"`
	// TopicSuffix is appended to the base state topic, e.g. "mode".
	TopicSuffix string `yaml:"topic_suffix,omitempty"`
}

// LayoutConfig represents the full layout configuration for Home Assistant sensors.
type LayoutConfig struct {
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Sensors     map[string]SensorConfig `yaml:"sensors"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	ValueTemplate       string     `json:"value_template"`
	DeviceClass         string     `json:"device_class,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic,omitempty"`
	PayloadAvailable    string     `json:"payload_available,omitempty"`
	PayloadNotAvailable string     `json:"payload_not_available,omitempty"`
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// AutoDiscovery handles Home Assistant MQTT auto-discovery.
type AutoDiscovery struct {
	config       Config
	layoutConfig *LayoutConfig
	baseTopic    string
	nodeID       string
}

// New creates a new Home Assistant auto-discovery instance for the inverter
// publishing on baseTopic.
func New(config Config, baseTopic, inverterID string) (*AutoDiscovery, error) {
	layout, err := loadLayoutConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load layout config: %w", err)
	}

	return &AutoDiscovery{
		config:       config,
		layoutConfig: layout,
		baseTopic:    baseTopic,
		nodeID:       nodeID(inverterID),
	}, nil
}

func loadLayoutConfig() (*LayoutConfig, error) {
	var config LayoutConfig
	if err := yaml.Unmarshal(sensorsYAML, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Home Assistant sensors config: %w", err)
	}

	log.Debug().
		Str("component", "homeassistant").
		Str("version", config.Version).
		Int("sensor_count", len(config.Sensors)).
		Msg("Home Assistant layout configuration loaded from YAML")

	return &config, nil
}

func nodeID(inverterID string) string {
	id := strings.ToLower(strings.TrimSpace(inverterID))
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
	if id == "" {
		id = "1"
	}
	return "axpert_" + id
}

// SensorKeys returns the configured sensor keys in sorted order, honouring
// IncludeDiagnostic.
func (ad *AutoDiscovery) SensorKeys() []string {
	keys := make([]string, 0, len(ad.layoutConfig.Sensors))
	for key, sensor := range ad.layoutConfig.Sensors {
		if sensor.Category == "diagnostic" && !ad.config.IncludeDiagnostic {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GenerateDiscoveryMessages returns one discovery message per sensor keyed by
// its discovery topic.
func (ad *AutoDiscovery) GenerateDiscoveryMessages() map[string]DiscoveryMessage {
	messages := make(map[string]DiscoveryMessage)
	for _, key := range ad.SensorKeys() {
		messages[ad.getDiscoveryTopic(key)] = ad.createDiscoveryMessage(key, ad.layoutConfig.Sensors[key])
	}
	return messages
}

func (ad *AutoDiscovery) createDiscoveryMessage(fieldName string, sensorConfig SensorConfig) DiscoveryMessage {
	stateTopic := ad.baseTopic
	if sensorConfig.TopicSuffix != "" {
		stateTopic = ad.baseTopic + "/" + sensorConfig.TopicSuffix
	}

	var entityCategory string
	if sensorConfig.Category == "diagnostic" {
		entityCategory = "diagnostic"
	}

	return DiscoveryMessage{
		Name:              sensorConfig.Name,
		UniqueID:          fmt.Sprintf("%s_%s", ad.nodeID, fieldName),
		StateTopic:        stateTopic,
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", fieldName),
		DeviceClass:       sensorConfig.DeviceClass,
		UnitOfMeasurement: sensorConfig.UnitOfMeasurement,
		StateClass:        sensorConfig.StateClass,
		Icon:              sensorConfig.Icon,
		EntityCategory:    entityCategory,
		Device: DeviceInfo{
			Identifiers:  []string{ad.nodeID},
			Name:         ad.config.DeviceName,
			Manufacturer: ad.config.DeviceManufacturer,
			Model:        ad.config.DeviceModel,
			SwVersion:    "go-axpert",
		},
		AvailabilityTopic:   ad.GetAvailabilityTopic(),
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
	}
}

// getDiscoveryTopic follows <discovery_prefix>/sensor/<node_id>/<object_id>/config.
func (ad *AutoDiscovery) getDiscoveryTopic(fieldName string) string {
	objectID := fmt.Sprintf("%s_%s", ad.nodeID, fieldName)
	return fmt.Sprintf("%s/sensor/%s/%s/config", ad.config.DiscoveryPrefix, ad.nodeID, objectID)
}

// GetAvailabilityTopic returns the availability topic for the device.
func (ad *AutoDiscovery) GetAvailabilityTopic() string {
	return ad.baseTopic + "/availability"
}

// CreateAvailabilityMessage returns the availability payload.
func (ad *AutoDiscovery) CreateAvailabilityMessage(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

// CleanupDiscoveryMessages generates empty payloads that remove every sensor
// from Home Assistant.
func (ad *AutoDiscovery) CleanupDiscoveryMessages() map[string]string {
	messages := make(map[string]string)
	for key := range ad.layoutConfig.Sensors {
		messages[ad.getDiscoveryTopic(key)] = ""
	}
	return messages
}
