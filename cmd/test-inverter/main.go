// Command test-inverter serves a simulated Axpert inverter on a serial
// device, typically one end of a pty pair created with socat, so the bridge
// can be run end to end without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/resident-x/go-axpert/internal/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tarm "github.com/tarm/serial"
)

var faults = map[string]simulator.Fault{
	"none":     simulator.FaultNone,
	"checksum": simulator.FaultCorruptChecksum,
	"silent":   simulator.FaultSilent,
	"nak":      simulator.FaultNAK,
}

// varyStatus adds small random variations to simulate changing sensor readings.
func varyStatus(base domain.GeneralStatus, r *rand.Rand) domain.GeneralStatus {
	s := base
	s.GridVoltage = base.GridVoltage + float32(r.Intn(41)-20)/10
	s.PVInputCurrent = clampFloat(base.PVInputCurrent+float32(r.Intn(21)-10)/10, 0, 99.9)
	s.PVInputVoltage = clampFloat(base.PVInputVoltage+float32(r.Intn(101)-50)/10, 0, 999.9)
	s.BatteryVoltage = clampFloat(base.BatteryVoltage+float32(r.Intn(21)-10)/100, 40, 60)

	capacity := int(base.BatteryCapacity) + r.Intn(5) - 2
	if capacity < 0 {
		capacity = 0
	}
	if capacity > 100 {
		capacity = 100
	}
	s.BatteryCapacity = uint16(capacity) //nolint:gosec // clamped to 0..100 above

	return s
}

func clampFloat(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func main() {
	var (
		device   = flag.String("device", "", "Serial device to serve on (e.g. /dev/pts/3)")
		baud     = flag.Int("baud", 2400, "Baud rate")
		mode     = flag.String("mode", "L", "Mode letter answered to QMOD (P, S, L, B, F, H, D)")
		fault    = flag.String("fault", "none", "Injected fault: none, checksum, silent, nak")
		interval = flag.Duration("interval", 10*time.Second, "Interval between reading variations (0 disables)")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help || *device == "" {
		fmt.Printf("Test Inverter Simulator for go-axpert\n\n")
		fmt.Printf("Answers QPIGS, QMOD and QPIRI on a serial device.\n\n")
		fmt.Printf("Usage:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExample:\n")
		fmt.Printf("  socat -d -d pty,raw,echo=0 pty,raw,echo=0\n")
		fmt.Printf("  %s -device /dev/pts/3 -interval 5s -verbose\n", os.Args[0])
		if *help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	injected, ok := faults[*fault]
	if !ok || len(*mode) != 1 {
		log.Fatal().Str("fault", *fault).Str("mode", *mode).Msg("Invalid fault or mode")
	}

	port, err := tarm.OpenPort(&tarm.Config{
		Name:        *device,
		Baud:        *baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatal().Err(err).Str("device", *device).Msg("Cannot open serial device")
	}
	defer port.Close()

	inv := simulator.New()
	inv.SetMode((*mode)[0])
	inv.SetFault(injected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
	}()

	if *interval > 0 {
		go func() {
			r := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // simulated readings only
			base := simulator.DefaultStatus()
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					status := varyStatus(base, r)
					inv.SetStatus(status)
					log.Debug().
						Float32("pv_input_power", status.PVInputPower()).
						Uint16("battery_capacity", status.BatteryCapacity).
						Msg("Reading varied")
				}
			}
		}()
	}

	log.Info().
		Str("device", *device).
		Int("baud", *baud).
		Str("mode", *mode).
		Str("fault", *fault).
		Msg("Serving simulated inverter")

	if err := inv.Serve(ctx, port); err != nil {
		log.Fatal().Err(err).Msg("Simulator error")
	}
}
