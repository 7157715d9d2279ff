package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandBuilder(t *testing.T) {
	builder := NewCommandBuilder()
	require.NotNil(t, builder)
	require.NotNil(t, builder.crcTable)
}

func TestBuildFrame_GeneralStatus(t *testing.T) {
	frame := BuildFrame(GeneralStatusInquiry)
	assert.Equal(t, []byte{'Q', 'P', 'I', 'G', 'S', 0xB7, 0xA9}, frame)
}

func TestBuildFrame_AllCommands(t *testing.T) {
	builder := NewCommandBuilder()

	tests := []struct {
		command  Command
		mnemonic string
		high     byte
		low      byte
	}{
		{ModeInquiry, "QMOD", 0x49, 0xC1},
		{GeneralStatusInquiry, "QPIGS", 0xB7, 0xA9},
		{RatingInformation, "QPIRI", 0xF8, 0x54},
	}

	for _, tt := range tests {
		t.Run(tt.command.String(), func(t *testing.T) {
			frame := builder.BuildFrame(tt.command)

			require.Len(t, frame, len(tt.mnemonic)+2)
			assert.Equal(t, tt.mnemonic, string(frame[:len(tt.mnemonic)]))
			assert.Equal(t, tt.high, frame[len(frame)-2])
			assert.Equal(t, tt.low, frame[len(frame)-1])
			assert.True(t, ValidateChecksum(frame))
		})
	}
}

func TestBuildFrame_FreshSlice(t *testing.T) {
	a := BuildFrame(ModeInquiry)
	b := BuildFrame(ModeInquiry)
	a[0] = 'X'
	assert.Equal(t, byte('Q'), b[0])
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		command  Command
		expected string
	}{
		{ModeInquiry, "mode_inquiry"},
		{GeneralStatusInquiry, "general_status"},
		{RatingInformation, "rating_information"},
		{Command(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.command.String())
		})
	}

	assert.Empty(t, Command(99).Mnemonic())
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("QPIGS")
	require.NoError(t, err)
	assert.Equal(t, GeneralStatusInquiry, cmd)

	cmd, err = ParseCommand("mode_inquiry")
	require.NoError(t, err)
	assert.Equal(t, ModeInquiry, cmd)

	_, err = ParseCommand("QFLAG")
	assert.Error(t, err)
}

func TestFormatCommandHex(t *testing.T) {
	assert.Equal(t, "", FormatCommandHex(nil))
	assert.Equal(t, "5150494753b7a9", FormatCommandHex(BuildFrame(GeneralStatusInquiry)))
}
