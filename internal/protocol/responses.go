package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/resident-x/go-axpert/internal/domain"
)

// Response framing bytes.
const (
	StartMarker = '('
	Separator   = ' '
	Terminator  = '\r'
)

const deviceStatusWidth = 8

var nakPayload = []byte("(NAK")

var (
	// ErrInvalidChecksum is returned when the trailing CRC does not match.
	ErrInvalidChecksum = errors.New("invalid checksum")
	// ErrFieldParse is wrapped by every FieldParseError.
	ErrFieldParse = errors.New("field parse error")
	// ErrMalformedFraming is wrapped by FramingError in strict mode.
	ErrMalformedFraming = errors.New("malformed framing")
	// ErrNotAcknowledged is returned when the inverter answers with NAK.
	ErrNotAcknowledged = errors.New("command not acknowledged")

	errFieldOutOfRange = errors.New("field extends past end of response")
)

// FieldParseError reports a field that could not be read as its declared type.
type FieldParseError struct {
	Index int
	Field string
	Raw   []byte
	Err   error
}

func (e *FieldParseError) Error() string {
	return fmt.Sprintf("field %d (%s): cannot decode %q: %v", e.Index, e.Field, e.Raw, e.Err)
}

func (e *FieldParseError) Unwrap() []error {
	return []error{ErrFieldParse, e.Err}
}

// FramingError reports an unexpected start marker or separator byte.
type FramingError struct {
	Offset int
	Want   byte
	Got    byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed framing at offset %d: want %q, got %q", e.Offset, e.Want, e.Got)
}

func (e *FramingError) Unwrap() error {
	return ErrMalformedFraming
}

// Numeric is the set of field types carried by fixed-width ASCII fields.
type Numeric interface {
	~float32 | ~uint16
}

var errInvalidNumber = errors.New("not a decimal number")

// decimalDigits reports whether s is a non-empty run of ASCII digits with at
// most one '.' when fraction is set.
func decimalDigits(s string, fraction bool) bool {
	digits, dots := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && fraction:
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

// parseFloat32 accepts an optional sign, digits and at most one decimal point.
func parseFloat32(s string) (float32, error) {
	digits := s
	if len(digits) > 0 && (digits[0] == '+' || digits[0] == '-') {
		digits = digits[1:]
	}
	if !decimalDigits(digits, true) {
		return 0, errInvalidNumber
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errInvalidNumber
	}
	return float32(v), nil
}

// parseUint16 accepts an optional '+' followed by digits.
func parseUint16(s string) (uint16, error) {
	s = strings.TrimPrefix(s, "+")
	if !decimalDigits(s, false) {
		return 0, errInvalidNumber
	}
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}

// decodeNumeric interprets raw ASCII bytes with the parser chosen for the field.
func decodeNumeric[T Numeric](raw []byte, parse func(string) (T, error)) (T, error) {
	return parse(string(raw))
}

// field is one entry of a fixed-width response layout.
type field struct {
	name   string
	width  int
	assign func(raw []byte, s *domain.GeneralStatus) error
}

func numericField[T Numeric](name string, width int, parse func(string) (T, error), dst func(*domain.GeneralStatus) *T) field {
	return field{
		name:  name,
		width: width,
		assign: func(raw []byte, s *domain.GeneralStatus) error {
			v, err := decodeNumeric(raw, parse)
			if err != nil {
				return err
			}
			*dst(s) = v
			return nil
		},
	}
}

// generalStatusFields is the QPIGS layout in wire order, device status excluded.
var generalStatusFields = []field{
	numericField("grid_voltage", 5, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.GridVoltage }),
	numericField("grid_frequency", 4, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.GridFrequency }),
	numericField("ac_output_voltage", 5, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.ACOutputVoltage }),
	numericField("ac_output_frequency", 4, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.ACOutputFrequency }),
	numericField("ac_output_apparent_power", 4, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.ACOutputApparentPower }),
	numericField("ac_output_active_power", 4, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.ACOutputActivePower }),
	numericField("ac_output_load", 3, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.ACOutputLoad }),
	numericField("bus_voltage", 3, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.BusVoltage }),
	numericField("battery_voltage", 5, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.BatteryVoltage }),
	numericField("battery_charging_current", 3, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.BatteryChargingCurrent }),
	numericField("battery_capacity", 3, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.BatteryCapacity }),
	numericField("inverter_heat_sink_temperature", 4, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.InverterHeatSinkTemperature }),
	numericField("pv_input_current", 4, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.PVInputCurrent }),
	numericField("pv_input_voltage", 5, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.PVInputVoltage }),
	numericField("battery_voltage_scc", 5, parseFloat32, func(s *domain.GeneralStatus) *float32 { return &s.BatteryVoltageSCC }),
	numericField("battery_discharge_current", 5, parseUint16, func(s *domain.GeneralStatus) *uint16 { return &s.BatteryDischargeCurrent }),
}

// ResponseWidths returns the field widths of the command's response, in wire
// order, or nil when the response is not split into fields.
func (c Command) ResponseWidths() []int {
	if c != GeneralStatusInquiry {
		return nil
	}
	widths := make([]int, 0, len(generalStatusFields)+1)
	for _, f := range generalStatusFields {
		widths = append(widths, f.width)
	}
	return append(widths, deviceStatusWidth)
}

// ResponseDecoder validates and decodes inverter responses.
// The zero value accepts any start marker and separator bytes, matching what
// inverters in the field send; Strict checks both.
type ResponseDecoder struct {
	Strict bool
}

// NewResponseDecoder creates a new response decoder.
func NewResponseDecoder(strict bool) *ResponseDecoder {
	return &ResponseDecoder{Strict: strict}
}

// payload checks the CRC and returns the response without it.
func (d *ResponseDecoder) payload(response []byte) ([]byte, error) {
	if !ValidateChecksum(response) {
		return nil, ErrInvalidChecksum
	}

	payload := response[:len(response)-2]
	if bytes.Equal(payload, nakPayload) {
		return nil, ErrNotAcknowledged
	}

	if d.Strict && payload[0] != StartMarker {
		return nil, &FramingError{Offset: 0, Want: StartMarker, Got: payload[0]}
	}

	return payload, nil
}

// DecodeGeneralStatus decodes a QPIGS response. No partial record is ever returned.
func (d *ResponseDecoder) DecodeGeneralStatus(response []byte) (*domain.GeneralStatus, error) {
	payload, err := d.payload(response)
	if err != nil {
		return nil, err
	}

	status := &domain.GeneralStatus{}
	c := newCursor(payload, 1)

	for i, f := range generalStatusFields {
		raw, ok := c.take(f.width)
		if !ok {
			return nil, &FieldParseError{Index: i, Field: f.name, Raw: bytes.Clone(c.rest()), Err: errFieldOutOfRange}
		}
		if err := f.assign(raw, status); err != nil {
			return nil, &FieldParseError{Index: i, Field: f.name, Raw: bytes.Clone(raw), Err: err}
		}

		if d.Strict {
			if sep, ok := c.peek(); !ok || sep != Separator {
				return nil, &FramingError{Offset: c.pos, Want: Separator, Got: sep}
			}
		}
		c.skip(1)
	}

	raw, ok := c.take(deviceStatusWidth)
	if !ok {
		return nil, &FieldParseError{
			Index: len(generalStatusFields),
			Field: "device_status",
			Raw:   bytes.Clone(c.rest()),
			Err:   errFieldOutOfRange,
		}
	}
	copy(status.DeviceStatus[:], raw)

	return status, nil
}

// DecodeMode decodes a QMOD response such as "(L".
func (d *ResponseDecoder) DecodeMode(response []byte) (domain.Mode, string, error) {
	payload, err := d.payload(response)
	if err != nil {
		return domain.ModeUnknown, "", err
	}

	c := newCursor(payload, 1)
	raw, ok := c.take(1)
	if !ok {
		return domain.ModeUnknown, "", &FieldParseError{Index: 0, Field: "mode", Raw: bytes.Clone(payload), Err: errFieldOutOfRange}
	}

	code := string(raw)
	return modeFromCode(code), code, nil
}

// DecodeRatingInformation validates a QPIRI response and returns its payload
// after the start marker. Rating fields are passed through unsplit.
func (d *ResponseDecoder) DecodeRatingInformation(response []byte) (string, error) {
	payload, err := d.payload(response)
	if err != nil {
		return "", err
	}
	return string(payload[1:]), nil
}

func modeFromCode(code string) domain.Mode {
	switch code {
	case "P":
		return domain.ModePowerOn
	case "S":
		return domain.ModeStandby
	case "L":
		return domain.ModeLine
	case "B":
		return domain.ModeBattery
	case "F":
		return domain.ModeFault
	case "H":
		return domain.ModePowerSaving
	case "D":
		return domain.ModeShutdown
	default:
		return domain.ModeUnknown
	}
}

var defaultDecoder = &ResponseDecoder{}

// DecodeGeneralStatus decodes a QPIGS response with the lenient decoder.
func DecodeGeneralStatus(response []byte) (*domain.GeneralStatus, error) {
	return defaultDecoder.DecodeGeneralStatus(response)
}

// DecodeMode decodes a QMOD response with the lenient decoder.
func DecodeMode(response []byte) (domain.Mode, string, error) {
	return defaultDecoder.DecodeMode(response)
}

// DecodeRatingInformation validates a QPIRI response with the lenient decoder.
func DecodeRatingInformation(response []byte) (string, error) {
	return defaultDecoder.DecodeRatingInformation(response)
}
