// Package protocol provides command framing and response decoding for the
// inverter serial protocol.
package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/sigurn/crc16"
)

// Command is one of the inquiry commands understood by the inverter.
type Command int

// Supported inquiry commands.
const (
	ModeInquiry Command = iota
	GeneralStatusInquiry
	RatingInformation
)

// Commands lists every supported command.
var Commands = []Command{ModeInquiry, GeneralStatusInquiry, RatingInformation}

// Mnemonic returns the ASCII mnemonic sent on the wire.
func (c Command) Mnemonic() string {
	switch c {
	case ModeInquiry:
		return "QMOD"
	case GeneralStatusInquiry:
		return "QPIGS"
	case RatingInformation:
		return "QPIRI"
	default:
		return ""
	}
}

// String returns the string representation of the command.
func (c Command) String() string {
	switch c {
	case ModeInquiry:
		return "mode_inquiry"
	case GeneralStatusInquiry:
		return "general_status"
	case RatingInformation:
		return "rating_information"
	default:
		return "unknown"
	}
}

// ParseCommand looks up a command by mnemonic or by name.
func ParseCommand(s string) (Command, error) {
	for _, c := range Commands {
		if s == c.Mnemonic() || s == c.String() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// CommandBuilder creates transmittable command frames.
type CommandBuilder struct {
	crcTable *crc16.Table
}

// NewCommandBuilder creates a new command builder instance.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		crcTable: xmodemTable,
	}
}

// BuildFrame returns the mnemonic bytes followed by the CRC high and low bytes.
// The carriage return terminator is added by the transport.
func (cb *CommandBuilder) BuildFrame(cmd Command) []byte {
	mnemonic := cmd.Mnemonic()
	frame := make([]byte, 0, len(mnemonic)+2)
	for i := 0; i < len(mnemonic); i++ {
		frame = append(frame, mnemonic[i])
	}

	high, low := SplitChecksum(crc16.Checksum(frame, cb.crcTable))
	return append(frame, high, low)
}

// BuildFrame is a shorthand for NewCommandBuilder().BuildFrame(cmd).
func BuildFrame(cmd Command) []byte {
	return NewCommandBuilder().BuildFrame(cmd)
}

// FormatCommandHex returns a hex representation of frame data for logging.
func FormatCommandHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return hex.EncodeToString(data)
}
