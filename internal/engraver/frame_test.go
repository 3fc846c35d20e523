package engraver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_EncodeSimple(t *testing.T) {
	assert.Equal(t, []byte{0x06, 0x00, 0x03}, Simple(CommandReset).Encode())
	assert.Equal(t, []byte{0x0A, 0x00, 0x03}, Simple(CommandConnect).Encode())
}

func TestMove(t *testing.T) {
	assert.Equal(t,
		[]byte{0x01, 0x00, 0x07, 0x00, 0x32, 0xFF, 0xFE},
		Move(50, -2).Encode(),
	)

	dx, dy, ok := Move(-300, 7).ParseMove()
	require.True(t, ok)
	assert.Equal(t, int16(-300), dx)
	assert.Equal(t, int16(7), dy)

	assert.Equal(t, CommandInitEngrave, InitEngrave(1, 2).Type)
	_, _, ok = Simple(CommandStop).ParseMove()
	assert.False(t, ok)
}

func TestRunBitmap(t *testing.T) {
	assert.Equal(t, []byte{0b11111000}, RunBitmap(5))
	assert.Equal(t, []byte{0b11111111, 0b10000000}, RunBitmap(9))
	assert.Equal(t, []byte{0xFF}, RunBitmap(8))
	assert.Equal(t, []byte{0x80}, RunBitmap(1))
	assert.Nil(t, RunBitmap(0))
}

func TestEngrave(t *testing.T) {
	frame := Engrave(500, 0x7f, DirectionInline, 9)

	assert.Equal(t, []byte{
		0x09, 0x00, 0x0B,
		0x00, 0x7f, 0x01, 0xF4, 0x00, 0x00,
		0xFF, 0x80,
	}, frame.Encode())
	assert.Equal(t, 9, frame.RunLength())
	assert.True(t, frame.IsEngrave())
	assert.False(t, Simple(CommandReset).IsEngrave())
}

func TestSettingsUpdate(t *testing.T) {
	frame := SettingsUpdate(Settings{
		StandbyBrightness:        70,
		LineDelay:                100,
		MaxPowerMw:               1000,
		StepSubdivision:          4,
		XCommutationCompensation: 1,
		YCommutationCompensation: 1,
		StepCount:                200,
		SpeedUpperLimit:          870,
		SpeedLowerLimit:          600,
		PositioningSpeed:         5,
	})

	assert.Equal(t, []byte{
		0x28, 0x00, 0x13,
		70,
		0x00, 0x64,
		0x03, 0xE8,
		4, 1, 1,
		0x00, 0xC8,
		0x03, 0x66,
		0x02, 0x58,
		0x00, 0x05,
	}, frame.Encode())
}

func TestDecodeFrame(t *testing.T) {
	original := Engrave(1000, 10, DirectionLineFeed, 12)

	decoded, err := DecodeFrame(original.Encode())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	decoded, err = DecodeFrame([]byte{0x16, 0x00, 0x03})
	require.NoError(t, err)
	assert.Equal(t, Simple(CommandStop), decoded)

	_, err = DecodeFrame([]byte{0x16, 0x00})
	assert.Error(t, err)

	_, err = DecodeFrame([]byte{0x01, 0x00, 0x07, 0x00})
	assert.Error(t, err)

	_, err = DecodeFrame([]byte{0x01, 0x00, 0x02})
	assert.Error(t, err)
}

func TestCheckResponse(t *testing.T) {
	assert.NoError(t, CheckResponse(ResponseCompleted))

	err := CheckResponse(ResponseFailed)
	var unexpected *UnexpectedResponseError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, []byte{0x08}, unexpected.Bytes)
	assert.Contains(t, err.Error(), "08")

	assert.Error(t, CheckResponse(0x42))
}

func TestCommandType_String(t *testing.T) {
	assert.Equal(t, "HOME_CENTER", CommandHomeCenter.String())
	assert.Equal(t, "UNKNOWN(0x7E)", CommandType(0x7E).String())
}
