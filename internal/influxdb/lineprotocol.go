// Package influxdb renders inverter readings as line protocol and writes them to InfluxDB.
package influxdb

import (
	"strconv"
	"strings"

	"github.com/resident-x/go-axpert/internal/domain"
)

// Line protocol naming for general status readings.
const (
	Measurement       = "inverter_general_status"
	DefaultInverterID = "1"
)

// FormatGeneralStatus renders a reading tagged with the default inverter id.
func FormatGeneralStatus(s *domain.GeneralStatus) string {
	return FormatGeneralStatusWithID(s, DefaultInverterID)
}

// FormatGeneralStatusWithID renders a reading as a single newline-terminated
// line. pv_input_power is derived from the PV voltage and current.
func FormatGeneralStatusWithID(s *domain.GeneralStatus, inverterID string) string {
	var b strings.Builder
	b.Grow(512)

	b.WriteString(Measurement)
	b.WriteString(",inverter_id=")
	b.WriteString(escapeTag(inverterID))
	b.WriteByte(' ')

	first := true
	writeFloat(&b, &first, "grid_voltage", s.GridVoltage)
	writeFloat(&b, &first, "grid_freq", s.GridFrequency)
	writeFloat(&b, &first, "ac_output_voltage", s.ACOutputVoltage)
	writeFloat(&b, &first, "ac_output_freq", s.ACOutputFrequency)
	writeUint(&b, &first, "ac_output_apparent_power", s.ACOutputApparentPower)
	writeUint(&b, &first, "ac_output_active_power", s.ACOutputActivePower)
	writeUint(&b, &first, "ac_output_load", s.ACOutputLoad)
	writeUint(&b, &first, "bus_voltage", s.BusVoltage)
	writeFloat(&b, &first, "battery_voltage", s.BatteryVoltage)
	writeUint(&b, &first, "battery_charging_current", s.BatteryChargingCurrent)
	writeUint(&b, &first, "battery_capacity", s.BatteryCapacity)
	writeUint(&b, &first, "inverter_temp", s.InverterHeatSinkTemperature)
	writeFloat(&b, &first, "pv_input_current", s.PVInputCurrent)
	writeFloat(&b, &first, "pv_input_voltage", s.PVInputVoltage)
	writeKey(&b, &first, "pv_input_power")
	b.WriteString(strconv.FormatFloat(float64(s.PVInputPower()), 'f', 2, 32))
	writeFloat(&b, &first, "battery_voltage_scc", s.BatteryVoltageSCC)
	writeUint(&b, &first, "battery_discharge_current", s.BatteryDischargeCurrent)

	b.WriteByte('\n')
	return b.String()
}

func writeKey(b *strings.Builder, first *bool, name string) {
	if *first {
		*first = false
	} else {
		b.WriteByte(',')
	}
	b.WriteString(name)
	b.WriteByte('=')
}

func writeFloat(b *strings.Builder, first *bool, name string, value float32) {
	writeKey(b, first, name)
	b.WriteString(strconv.FormatFloat(float64(value), 'f', -1, 32))
}

func writeUint(b *strings.Builder, first *bool, name string, value uint16) {
	writeKey(b, first, name)
	b.WriteString(strconv.FormatUint(uint64(value), 10))
}

// escapeTag escapes commas, spaces and equals signs in tag values.
func escapeTag(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', ' ', '=':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
