// Package config provides configuration management for the go-axpert application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AXPERT_INVERTER_DEVICE.
const EnvPrefix = "AXPERT"

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Inverter serial link and polling
	Inverter struct {
		Device          string        `mapstructure:"device"`
		Baud            int           `mapstructure:"baud"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		ModeInterval    time.Duration `mapstructure:"mode_interval"`
		StrictFraming   bool          `mapstructure:"strict_framing"`
		ID              string        `mapstructure:"inverter_id"`
	} `mapstructure:"inverter"`

	// InfluxDB settings
	InfluxDB struct {
		Enabled bool          `mapstructure:"enabled"`
		URL     string        `mapstructure:"url"`
		Token   string        `mapstructure:"token"`
		Org     string        `mapstructure:"org"`
		Bucket  string        `mapstructure:"bucket"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"influxdb"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		ClientID string `mapstructure:"client_id"`
		Topic    string `mapstructure:"topic"`
		Retain   bool   `mapstructure:"retain"`

		// Home Assistant Auto-Discovery settings
		HomeAssistantAutoDiscovery struct {
			Enabled            bool   `mapstructure:"enabled"`
			DiscoveryPrefix    string `mapstructure:"discovery_prefix"`
			DeviceName         string `mapstructure:"device_name"`
			DeviceManufacturer string `mapstructure:"device_manufacturer"`
			DeviceModel        string `mapstructure:"device_model"`
			RetainDiscovery    bool   `mapstructure:"retain_discovery"`
			IncludeDiagnostic  bool   `mapstructure:"include_diagnostic"`
		} `mapstructure:"homeassistant_autodiscovery"`
	} `mapstructure:"mqtt"`

	// PVOutput settings
	PVOutput struct {
		Enabled            bool   `mapstructure:"enabled"`
		APIKey             string `mapstructure:"api_key"`
		SystemID           string `mapstructure:"system_id"`
		UseInverterTemp    bool   `mapstructure:"use_inverter_temp"`
		UpdateLimitMinutes int    `mapstructure:"update_limit_minutes"`
	} `mapstructure:"pvoutput"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	// Default inverter settings
	cfg.Inverter.Device = "/dev/ttyUSB0"
	cfg.Inverter.Baud = 2400
	cfg.Inverter.ReadTimeout = 500 * time.Millisecond
	cfg.Inverter.ExchangeTimeout = 3 * time.Second
	cfg.Inverter.PollInterval = 10 * time.Second
	cfg.Inverter.ModeInterval = time.Minute
	cfg.Inverter.StrictFraming = false
	cfg.Inverter.ID = "1"

	// Default InfluxDB settings
	cfg.InfluxDB.Enabled = false
	cfg.InfluxDB.URL = "http://localhost:8086"
	cfg.InfluxDB.Org = "home"
	cfg.InfluxDB.Bucket = "inverter"
	cfg.InfluxDB.Timeout = 10 * time.Second

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default MQTT settings
	cfg.MQTT.Enabled = false
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.ClientID = "go-axpert"
	cfg.MQTT.Topic = "energy/axpert"
	cfg.MQTT.Retain = false

	// Default Home Assistant Auto-Discovery settings
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceName = "Axpert Inverter"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceManufacturer = "Voltronic Power"
	cfg.MQTT.HomeAssistantAutoDiscovery.DeviceModel = ""
	cfg.MQTT.HomeAssistantAutoDiscovery.RetainDiscovery = true
	cfg.MQTT.HomeAssistantAutoDiscovery.IncludeDiagnostic = true

	// Default PVOutput settings
	cfg.PVOutput.Enabled = false
	cfg.PVOutput.UpdateLimitMinutes = 5 // 5 minutes between updates

	return cfg
}

// registerDefaults makes every key known to viper so that AutomaticEnv can
// override keys that are absent from the config file.
func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetDefault("inverter.device", cfg.Inverter.Device)
	v.SetDefault("inverter.baud", cfg.Inverter.Baud)
	v.SetDefault("inverter.read_timeout", cfg.Inverter.ReadTimeout)
	v.SetDefault("inverter.exchange_timeout", cfg.Inverter.ExchangeTimeout)
	v.SetDefault("inverter.poll_interval", cfg.Inverter.PollInterval)
	v.SetDefault("inverter.mode_interval", cfg.Inverter.ModeInterval)
	v.SetDefault("inverter.strict_framing", cfg.Inverter.StrictFraming)
	v.SetDefault("inverter.inverter_id", cfg.Inverter.ID)

	v.SetDefault("influxdb.enabled", cfg.InfluxDB.Enabled)
	v.SetDefault("influxdb.url", cfg.InfluxDB.URL)
	v.SetDefault("influxdb.token", cfg.InfluxDB.Token)
	v.SetDefault("influxdb.org", cfg.InfluxDB.Org)
	v.SetDefault("influxdb.bucket", cfg.InfluxDB.Bucket)
	v.SetDefault("influxdb.timeout", cfg.InfluxDB.Timeout)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("mqtt.enabled", cfg.MQTT.Enabled)
	v.SetDefault("mqtt.host", cfg.MQTT.Host)
	v.SetDefault("mqtt.port", cfg.MQTT.Port)
	v.SetDefault("mqtt.username", cfg.MQTT.Username)
	v.SetDefault("mqtt.password", cfg.MQTT.Password)
	v.SetDefault("mqtt.client_id", cfg.MQTT.ClientID)
	v.SetDefault("mqtt.topic", cfg.MQTT.Topic)
	v.SetDefault("mqtt.retain", cfg.MQTT.Retain)

	ha := cfg.MQTT.HomeAssistantAutoDiscovery
	v.SetDefault("mqtt.homeassistant_autodiscovery.enabled", ha.Enabled)
	v.SetDefault("mqtt.homeassistant_autodiscovery.discovery_prefix", ha.DiscoveryPrefix)
	v.SetDefault("mqtt.homeassistant_autodiscovery.device_name", ha.DeviceName)
	v.SetDefault("mqtt.homeassistant_autodiscovery.device_manufacturer", ha.DeviceManufacturer)
	v.SetDefault("mqtt.homeassistant_autodiscovery.device_model", ha.DeviceModel)
	v.SetDefault("mqtt.homeassistant_autodiscovery.retain_discovery", ha.RetainDiscovery)
	v.SetDefault("mqtt.homeassistant_autodiscovery.include_diagnostic", ha.IncludeDiagnostic)

	v.SetDefault("pvoutput.enabled", cfg.PVOutput.Enabled)
	v.SetDefault("pvoutput.api_key", cfg.PVOutput.APIKey)
	v.SetDefault("pvoutput.system_id", cfg.PVOutput.SystemID)
	v.SetDefault("pvoutput.use_inverter_temp", cfg.PVOutput.UseInverterTemp)
	v.SetDefault("pvoutput.update_limit_minutes", cfg.PVOutput.UpdateLimitMinutes)
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	registerDefaults(v, cfg)

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate reports every setting that would stop the service from running.
func (c *Config) Validate() error {
	var errs []error

	if c.Inverter.Device == "" {
		errs = append(errs, errors.New("inverter.device is required"))
	}
	if c.Inverter.Baud <= 0 {
		errs = append(errs, fmt.Errorf("inverter.baud must be positive, got %d", c.Inverter.Baud))
	}
	if c.Inverter.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("inverter.poll_interval must be positive, got %s", c.Inverter.PollInterval))
	}
	if c.Inverter.ExchangeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("inverter.exchange_timeout must be positive, got %s", c.Inverter.ExchangeTimeout))
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, errors.New("influxdb.url and influxdb.bucket are required when influxdb is enabled"))
	}
	if c.PVOutput.Enabled && (c.PVOutput.APIKey == "" || c.PVOutput.SystemID == "") {
		errs = append(errs, errors.New("pvoutput.api_key and pvoutput.system_id are required when pvoutput is enabled"))
	}

	return errors.Join(errs...)
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-axpert Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("device", c.Inverter.Device).
		Int("baud", c.Inverter.Baud).
		Dur("poll_interval", c.Inverter.PollInterval).
		Dur("mode_interval", c.Inverter.ModeInterval).
		Dur("exchange_timeout", c.Inverter.ExchangeTimeout).
		Bool("strict_framing", c.Inverter.StrictFraming).
		Str("inverter_id", c.Inverter.ID).
		Msg("Inverter")

	logger.Info().Bool("enabled", c.InfluxDB.Enabled).Msg("InfluxDB Enabled")
	if c.InfluxDB.Enabled {
		logger.Info().
			Str("url", c.InfluxDB.URL).
			Str("org", c.InfluxDB.Org).
			Str("bucket", c.InfluxDB.Bucket).
			Msg("InfluxDB Configuration")
	}

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("homeassistant_autodiscovery_enabled", c.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Msg("MQTT Configuration")
	}

	logger.Info().Bool("enabled", c.PVOutput.Enabled).Msg("PVOutput Enabled")
	if c.PVOutput.Enabled {
		logger.Info().
			Str("system_id", c.PVOutput.SystemID).
			Int("update_limit_minutes", c.PVOutput.UpdateLimitMinutes).
			Msg("PVOutput Configuration")
	}

	logger.Info().Msg("-----------------------------")
}
