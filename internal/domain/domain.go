// Package domain provides core domain models and interfaces for the go-axpert application
package domain

import (
	"context"
	"fmt"
	"time"
)

// DeviceStatus is the raw status flag block trailing a general status response.
type DeviceStatus [8]byte

// String renders the block as hex for logging.
func (d DeviceStatus) String() string {
	return fmt.Sprintf("%X", d[:])
}

// MarshalText renders the block as hex so JSON carries a string, not an array.
func (d DeviceStatus) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// GeneralStatus represents one decoded general status (QPIGS) reading.
// Field order follows the protocol position.
type GeneralStatus struct {
	GridVoltage                 float32      `json:"grid_voltage"`
	GridFrequency               float32      `json:"grid_freq"`
	ACOutputVoltage             float32      `json:"ac_output_voltage"`
	ACOutputFrequency           float32      `json:"ac_output_freq"`
	ACOutputApparentPower       uint16       `json:"ac_output_apparent_power"`
	ACOutputActivePower         uint16       `json:"ac_output_active_power"`
	ACOutputLoad                uint16       `json:"ac_output_load"`
	BusVoltage                  uint16       `json:"bus_voltage"`
	BatteryVoltage              float32      `json:"battery_voltage"`
	BatteryChargingCurrent      uint16       `json:"battery_charging_current"`
	BatteryCapacity             uint16       `json:"battery_capacity"`
	InverterHeatSinkTemperature uint16       `json:"inverter_temp"`
	PVInputCurrent              float32      `json:"pv_input_current"`
	PVInputVoltage              float32      `json:"pv_input_voltage"`
	BatteryVoltageSCC           float32      `json:"battery_voltage_scc"`
	BatteryDischargeCurrent     uint16       `json:"battery_discharge_current"`
	DeviceStatus                DeviceStatus `json:"device_status"`
}

// PVInputPower returns the derived PV input power in watts.
func (s *GeneralStatus) PVInputPower() float32 {
	return s.PVInputVoltage * s.PVInputCurrent
}

// Mode is the operating mode reported by a mode inquiry.
type Mode string

// Operating modes reported by the inverter.
const (
	ModePowerOn     Mode = "power_on"
	ModeStandby     Mode = "standby"
	ModeLine        Mode = "line"
	ModeBattery     Mode = "battery"
	ModeFault       Mode = "fault"
	ModePowerSaving Mode = "power_saving"
	ModeShutdown    Mode = "shutdown"
	ModeUnknown     Mode = "unknown"
)

// ModeReading is a decoded mode inquiry response.
type ModeReading struct {
	Mode Mode `json:"mode"`
	// Code is the raw mode letter as sent by the inverter.
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading couples a decoded general status with the time it was taken.
type Reading struct {
	Status    *GeneralStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// Report returns the published form of the reading.
func (r Reading) Report() StatusReport {
	report := StatusReport{GeneralStatus: r.Status, Timestamp: r.Timestamp}
	if r.Status != nil {
		report.PVInputPower = r.Status.PVInputPower()
	}
	return report
}

// StatusReport is a reading flattened for JSON consumers: every decoded
// field, the derived PV input power and the sample time.
type StatusReport struct {
	*GeneralStatus
	PVInputPower float32   `json:"pv_input_power"`
	Timestamp    time.Time `json:"timestamp"`
}

// Transport exchanges command frames with the inverter.
type Transport interface {
	// Exchange sends a frame and returns the response with the terminator stripped
	Exchange(ctx context.Context, frame []byte) ([]byte, error)

	// Close releases the underlying port
	Close() error
}

// TelemetryWriter delivers readings to a time-series database.
type TelemetryWriter interface {
	// Write stores a single general status reading
	Write(ctx context.Context, status *GeneralStatus) error

	// Close flushes and releases the writer
	Close() error
}

// MessagePublisher defines the interface for publishing parsed data.
type MessagePublisher interface {
	// Connect establishes a connection to the messaging system
	Connect(ctx context.Context) error

	// Publish sends data to the specified topic
	Publish(ctx context.Context, topic string, data interface{}) error

	// Close terminates the connection to the messaging system
	Close() error
}

// MonitoringService defines the interface for external monitoring services.
type MonitoringService interface {
	// Send publishes a reading to the monitoring service
	Send(ctx context.Context, status *GeneralStatus) error

	// Connect establishes a connection to the service
	Connect() error

	// Close terminates the connection to the service
	Close() error
}
