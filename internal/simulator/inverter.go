// Package simulator provides an in-memory inverter that answers protocol
// frames the way a real unit does on its serial port.
package simulator

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/resident-x/go-axpert/internal/protocol"
)

// Fault selects a misbehaviour injected into every response.
type Fault int

const (
	// FaultNone answers normally.
	FaultNone Fault = iota
	// FaultCorruptChecksum flips the low checksum byte of each response.
	FaultCorruptChecksum
	// FaultSilent swallows commands without answering.
	FaultSilent
	// FaultNAK answers every command with a NAK.
	FaultNAK
)

// DefaultRating is the QPIRI payload of a typical 5 kVA unit.
const DefaultRating = "230.0 21.7 230.0 50.0 21.7 5000 4000 48.0 46.0 42.0 56.4 54.0 2 02 060 0 1 2 1 01 0 0 54.0 0 1"

// DefaultStatus is the reading served until SetStatus is called.
func DefaultStatus() domain.GeneralStatus {
	return domain.GeneralStatus{
		GridVoltage:                 230.4,
		GridFrequency:               50.0,
		ACOutputVoltage:             230.1,
		ACOutputFrequency:           50.0,
		ACOutputApparentPower:       437,
		ACOutputActivePower:         392,
		ACOutputLoad:                8,
		BusVoltage:                  392,
		BatteryVoltage:              52.30,
		BatteryChargingCurrent:      12,
		BatteryCapacity:             85,
		InverterHeatSinkTemperature: 41,
		PVInputCurrent:              5.2,
		PVInputVoltage:              231.4,
		BatteryVoltageSCC:           52.25,
		BatteryDischargeCurrent:     0,
		DeviceStatus:                domain.DeviceStatus{'0', '0', '0', '1', '0', '1', '1', '0'},
	}
}

// Inverter is a port-shaped fake: commands written to it are answered on
// the next Read. It is safe for concurrent use.
type Inverter struct {
	mu       sync.Mutex
	status   domain.GeneralStatus
	mode     byte
	rating   string
	fault    Fault
	pending  []byte
	out      bytes.Buffer
	requests map[string]int
	closed   bool
}

// New creates an inverter in line mode serving DefaultStatus.
func New() *Inverter {
	return &Inverter{
		status:   DefaultStatus(),
		mode:     'L',
		rating:   DefaultRating,
		requests: make(map[string]int),
	}
}

// SetStatus replaces the reading served for QPIGS.
func (inv *Inverter) SetStatus(status domain.GeneralStatus) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.status = status
}

// SetMode sets the letter served for QMOD.
func (inv *Inverter) SetMode(code byte) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.mode = code
}

// SetRating sets the payload served for QPIRI.
func (inv *Inverter) SetRating(rating string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.rating = rating
}

// SetFault changes how subsequent commands are answered.
func (inv *Inverter) SetFault(fault Fault) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.fault = fault
}

// Requests returns how many frames with the given mnemonic were received.
func (inv *Inverter) Requests(mnemonic string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.requests[mnemonic]
}

// Write accepts command bytes; every CR-terminated frame queues a response.
func (inv *Inverter) Write(p []byte) (int, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.closed {
		return 0, io.ErrClosedPipe
	}

	inv.pending = append(inv.pending, p...)
	for {
		idx := bytes.IndexByte(inv.pending, protocol.Terminator)
		if idx < 0 {
			break
		}
		frame := inv.pending[:idx]
		inv.respond(frame)
		inv.pending = inv.pending[idx+1:]
	}

	return len(p), nil
}

// Read drains queued responses. An empty queue reads as io.EOF, which is
// what a serial port returns when its read timeout elapses.
func (inv *Inverter) Read(p []byte) (int, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.closed {
		return 0, io.ErrClosedPipe
	}
	if inv.out.Len() == 0 {
		return 0, io.EOF
	}
	return inv.out.Read(p)
}

// Flush discards unanswered input and unread output.
func (inv *Inverter) Flush() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.pending = inv.pending[:0]
	inv.out.Reset()
	return nil
}

// Close marks the inverter closed; later reads and writes fail.
func (inv *Inverter) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.closed = true
	return nil
}

func (inv *Inverter) respond(frame []byte) {
	if !protocol.ValidateChecksum(frame) {
		inv.requests["invalid"]++
		inv.queue([]byte("(NAK"))
		return
	}

	mnemonic := string(frame[:len(frame)-2])
	inv.requests[mnemonic]++

	if inv.fault == FaultNAK {
		inv.queue([]byte("(NAK"))
		return
	}

	switch mnemonic {
	case protocol.GeneralStatusInquiry.Mnemonic():
		inv.queue(FormatGeneralStatus(&inv.status))
	case protocol.ModeInquiry.Mnemonic():
		inv.queue([]byte{protocol.StartMarker, inv.mode})
	case protocol.RatingInformation.Mnemonic():
		inv.queue(append([]byte{protocol.StartMarker}, inv.rating...))
	default:
		inv.queue([]byte("(NAK"))
	}
}

func (inv *Inverter) queue(payload []byte) {
	if inv.fault == FaultSilent {
		return
	}

	high, low := protocol.SplitChecksum(protocol.Checksum(payload))
	if inv.fault == FaultCorruptChecksum {
		low ^= 0xFF
	}

	inv.out.Write(payload)
	inv.out.WriteByte(high)
	inv.out.WriteByte(low)
	inv.out.WriteByte(protocol.Terminator)
}

// FormatGeneralStatus renders a QPIGS payload (without checksum) using the
// fixed field widths of the protocol. Values wider than their field are not
// truncated.
func FormatGeneralStatus(s *domain.GeneralStatus) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(%05.1f %04.1f %05.1f %04.1f %04d %04d %03d %03d %05.2f %03d %03d %04d %04.1f %05.1f %05.2f %05d ",
		s.GridVoltage, s.GridFrequency, s.ACOutputVoltage, s.ACOutputFrequency,
		s.ACOutputApparentPower, s.ACOutputActivePower, s.ACOutputLoad, s.BusVoltage,
		s.BatteryVoltage, s.BatteryChargingCurrent, s.BatteryCapacity, s.InverterHeatSinkTemperature,
		s.PVInputCurrent, s.PVInputVoltage, s.BatteryVoltageSCC, s.BatteryDischargeCurrent)
	buf.Write(s.DeviceStatus[:])
	return buf.Bytes()
}
