package protocol

import "github.com/sigurn/crc16"

// xmodemTable is the CRC-16/XMODEM table (poly 0x1021, init 0, no reflection).
var xmodemTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum computes the CRC-16/XMODEM checksum of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, xmodemTable)
}

// SplitChecksum returns the high and low bytes of a checksum.
func SplitChecksum(crc uint16) (high, low byte) {
	return byte(crc >> 8), byte(crc & 0xFF)
}

// ValidateChecksum reports whether the trailing two bytes of data match the
// checksum of everything before them.
func ValidateChecksum(data []byte) bool {
	if len(data) < 3 {
		return false
	}

	n := len(data)
	high, low := SplitChecksum(Checksum(data[:n-2]))
	return high == data[n-2] && low == data[n-1]
}
