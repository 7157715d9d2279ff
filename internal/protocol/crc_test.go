package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceChecksum is the bit-by-bit form of CRC-16/XMODEM.
func referenceChecksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		mnemonic string
		expected uint16
	}{
		{"QPIGS", 47017},
		{"QMOD", 18881},
		{"QPIRI", 63572},
	}

	for _, tt := range tests {
		t.Run(tt.mnemonic, func(t *testing.T) {
			assert.Equal(t, tt.expected, Checksum([]byte(tt.mnemonic)))
		})
	}
}

func TestChecksumMatchesBitwiseReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	assert.Equal(t, referenceChecksum(nil), Checksum(nil))
	for i := 0; i < 200; i++ {
		data := make([]byte, rng.Intn(128))
		rng.Read(data)
		require.Equal(t, referenceChecksum(data), Checksum(data), "input %x", data)
	}
}

func TestSplitChecksum(t *testing.T) {
	tests := []struct {
		crc  uint16
		high byte
		low  byte
	}{
		{47017, 0xB7, 0xA9},
		{18881, 0x49, 0xC1},
		{63572, 0xF8, 0x54},
	}

	for _, tt := range tests {
		high, low := SplitChecksum(tt.crc)
		assert.Equal(t, tt.high, high, "high byte of %d", tt.crc)
		assert.Equal(t, tt.low, low, "low byte of %d", tt.crc)
	}
}

func TestValidateChecksum_TooShort(t *testing.T) {
	assert.False(t, ValidateChecksum(nil))
	assert.False(t, ValidateChecksum([]byte{0x00}))
	assert.False(t, ValidateChecksum([]byte{0x00, 0x00}))
}

func TestValidateChecksum_RoundTripAndBitFlips(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	inputs := [][]byte{
		[]byte("QPIGS"),
		[]byte("(L"),
		[]byte("("),
	}
	for i := 0; i < 20; i++ {
		data := make([]byte, 1+rng.Intn(64))
		rng.Read(data)
		inputs = append(inputs, data)
	}

	for _, input := range inputs {
		high, low := SplitChecksum(Checksum(input))
		framed := append(append([]byte{}, input...), high, low)
		require.True(t, ValidateChecksum(framed), "round trip failed for %x", input)

		for i := range framed {
			for bit := 0; bit < 8; bit++ {
				flipped := append([]byte{}, framed...)
				flipped[i] ^= 1 << bit
				assert.False(t, ValidateChecksum(flipped), "flip of byte %d bit %d accepted for %x", i, bit, input)
			}
		}
	}
}
