// Package main provides the entry point for the go-axpert bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/resident-x/go-axpert/internal/api"
	"github.com/resident-x/go-axpert/internal/config"
	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/resident-x/go-axpert/internal/influxdb"
	"github.com/resident-x/go-axpert/internal/poller"
	"github.com/resident-x/go-axpert/internal/pubsub"
	"github.com/resident-x/go-axpert/internal/serial"
	pvoutput "github.com/resident-x/go-axpert/internal/service/pvoutput"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run()
	os.Exit(code)
}

func run() int {
	// Parse command line flags
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-axpert %s\n", Version)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting go-axpert")

	logServiceConfiguration(cfg)

	transport, err := serial.Open(serial.Config{
		Device:      cfg.Inverter.Device,
		Baud:        cfg.Inverter.Baud,
		ReadTimeout: cfg.Inverter.ReadTimeout,
	})
	if err != nil {
		log.Error().Err(err).Str("device", cfg.Inverter.Device).Msg("Failed to open inverter port")
		return 1
	}
	defer closeAndLog("serial transport", transport)

	writer := newTelemetryWriter(cfg)
	defer closeAndLog("InfluxDB writer", writer)

	publisher := newPublisher(ctx, cfg)
	defer closeAndLog("MQTT publisher", publisher)

	monitoringService := newMonitoringService(cfg)
	defer closeAndLog("PVOutput client", monitoringService)

	store := domain.NewStateStore()
	p := poller.New(transport, poller.Sinks{
		Writer:    writer,
		Publisher: publisher,
		Monitor:   monitoringService,
	}, store, pollerConfig(cfg), log.Logger)

	if err := p.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start poller")
		return 1
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, store, p, Version)
		if err := apiServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start API server")
			_ = p.Stop()
			return 1
		}
	}

	log.Info().
		Str("device", cfg.Inverter.Device).
		Dur("poll_interval", cfg.Inverter.PollInterval).
		Msg("Bridge started successfully")

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	exitCode := 0
	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping API server")
			exitCode = 1
		}
	}

	cancel()
	if err := p.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping poller")
		exitCode = 1
	}

	log.Info().Interface("metrics", p.GetMetrics()).Msg("Bridge stopped")
	return exitCode
}

// newTelemetryWriter returns the InfluxDB writer, or a no-op when disabled.
func newTelemetryWriter(cfg *config.Config) domain.TelemetryWriter {
	if !cfg.InfluxDB.Enabled {
		log.Info().Msg("InfluxDB disabled, using noop writer")
		return influxdb.NewNoopWriter()
	}

	return influxdb.NewWriter(influxdb.Config{
		URL:        cfg.InfluxDB.URL,
		Token:      cfg.InfluxDB.Token,
		Org:        cfg.InfluxDB.Org,
		Bucket:     cfg.InfluxDB.Bucket,
		InverterID: cfg.Inverter.ID,
		Timeout:    cfg.InfluxDB.Timeout,
	})
}

// newPublisher connects the MQTT publisher. A broker that cannot be reached
// at startup degrades to a no-op publisher.
func newPublisher(ctx context.Context, cfg *config.Config) domain.MessagePublisher {
	if !cfg.MQTT.Enabled {
		log.Info().Msg("MQTT disabled, using noop publisher")
		return pubsub.NewNoopPublisher()
	}

	mqttPublisher := pubsub.NewMQTTPublisher(cfg)
	if err := mqttPublisher.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
		return pubsub.NewNoopPublisher()
	}

	log.Info().Msg("MQTT publisher connected successfully")
	return mqttPublisher
}

// newMonitoringService returns the PVOutput client, or a no-op when disabled.
func newMonitoringService(cfg *config.Config) domain.MonitoringService {
	if !cfg.PVOutput.Enabled {
		return pvoutput.NewNoopClient()
	}

	client := pvoutput.NewClient(cfg)
	if err := client.Connect(); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize PVOutput client")
		return pvoutput.NewNoopClient()
	}
	return client
}

func pollerConfig(cfg *config.Config) *poller.Config {
	return &poller.Config{
		PollInterval:    cfg.Inverter.PollInterval,
		ModeInterval:    cfg.Inverter.ModeInterval,
		ExchangeTimeout: cfg.Inverter.ExchangeTimeout,
		Topic:           cfg.MQTT.Topic,
		StrictFraming:   cfg.Inverter.StrictFraming,
	}
}

type closer interface {
	Close() error
}

func closeAndLog(name string, c closer) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("resource", name).Msg("Close failed")
	}
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// logServiceConfiguration logs the current service configuration for debugging.
func logServiceConfiguration(cfg *config.Config) {
	log.Debug().Msg("=== Service Configuration ===")

	log.Debug().
		Str("log_level", cfg.LogLevel).
		Str("device", cfg.Inverter.Device).
		Int("baud", cfg.Inverter.Baud).
		Dur("read_timeout", cfg.Inverter.ReadTimeout).
		Dur("exchange_timeout", cfg.Inverter.ExchangeTimeout).
		Dur("poll_interval", cfg.Inverter.PollInterval).
		Dur("mode_interval", cfg.Inverter.ModeInterval).
		Bool("strict_framing", cfg.Inverter.StrictFraming).
		Str("inverter_id", cfg.Inverter.ID).
		Msg("Inverter settings")

	log.Debug().
		Bool("enabled", cfg.API.Enabled).
		Str("host", cfg.API.Host).
		Int("port", cfg.API.Port).
		Msg("HTTP API configuration")

	if cfg.InfluxDB.Enabled {
		log.Debug().
			Str("url", cfg.InfluxDB.URL).
			Str("org", cfg.InfluxDB.Org).
			Str("bucket", cfg.InfluxDB.Bucket).
			Dur("timeout", cfg.InfluxDB.Timeout).
			Msg("InfluxDB configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("InfluxDB disabled")
	}

	if cfg.MQTT.Enabled {
		log.Debug().
			Str("host", cfg.MQTT.Host).
			Int("port", cfg.MQTT.Port).
			Str("username", cfg.MQTT.Username).
			Str("topic", cfg.MQTT.Topic).
			Bool("retain", cfg.MQTT.Retain).
			Msg("MQTT configuration")

		ha := cfg.MQTT.HomeAssistantAutoDiscovery
		if ha.Enabled {
			log.Debug().
				Str("discovery_prefix", ha.DiscoveryPrefix).
				Str("device_name", ha.DeviceName).
				Bool("retain_discovery", ha.RetainDiscovery).
				Bool("include_diagnostic", ha.IncludeDiagnostic).
				Msg("Home Assistant auto-discovery configuration")
		} else {
			log.Debug().Bool("enabled", false).Msg("Home Assistant auto-discovery disabled")
		}
	} else {
		log.Debug().Bool("enabled", false).Msg("MQTT disabled")
	}

	if cfg.PVOutput.Enabled {
		log.Debug().
			Str("system_id", cfg.PVOutput.SystemID).
			Bool("use_inverter_temp", cfg.PVOutput.UseInverterTemp).
			Int("update_limit_minutes", cfg.PVOutput.UpdateLimitMinutes).
			Msg("PVOutput configuration")
	} else {
		log.Debug().Bool("enabled", false).Msg("PVOutput disabled")
	}

	log.Debug().Msg("=== End Configuration ===")
}
