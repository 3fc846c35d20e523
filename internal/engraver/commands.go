package engraver

import "encoding/binary"

// Direction selects where the head ends up after an engrave run.
type Direction byte

const (
	// DirectionInline leaves the head one pixel past the end of the run.
	DirectionInline Direction = 0x00
	// DirectionLineFeed leaves the head on the last pixel, one row down.
	DirectionLineFeed Direction = 0x01
)

// Simple creates a command frame without payload.
func Simple(t CommandType) Frame {
	return Frame{Type: t}
}

// Move creates a relative move of dx/dy steps.
func Move(dx, dy int16) Frame {
	return Frame{Type: CommandMove, Payload: vectorPayload(dx, dy)}
}

// InitEngrave shares the Move payload layout.
func InitEngrave(x, y int16) Frame {
	return Frame{Type: CommandInitEngrave, Payload: vectorPayload(x, y)}
}

func vectorPayload(x, y int16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], uint16(x))
	binary.BigEndian.PutUint16(data[2:4], uint16(y))
	return data
}

// Engrave creates a burn command for a horizontal run of length pixels.
func Engrave(powerMw uint16, duration uint8, direction Direction, length int) Frame {
	bitmap := RunBitmap(length)

	data := make([]byte, 6+len(bitmap))
	data[0] = 0
	data[1] = duration
	binary.BigEndian.PutUint16(data[2:4], powerMw)
	data[4] = 0
	data[5] = byte(direction)
	copy(data[6:], bitmap)

	return Frame{Type: CommandEngrave, Payload: data}
}

// RunBitmap packs length "on" pixels MSB-first into ceil(length/8) bytes.
func RunBitmap(length int) []byte {
	if length <= 0 {
		return nil
	}

	bitmap := make([]byte, (length+7)/8)
	for i := 0; i < length; i++ {
		bitmap[i/8] |= 0x80 >> (i % 8)
	}
	return bitmap
}

// Settings is the tuning block uploaded after every connect.
type Settings struct {
	StandbyBrightness        uint8
	LineDelay                uint16 // milliseconds
	MaxPowerMw               uint16
	StepSubdivision          uint8
	XCommutationCompensation uint8
	YCommutationCompensation uint8
	StepCount                uint16
	SpeedUpperLimit          uint16
	SpeedLowerLimit          uint16
	PositioningSpeed         uint16
}

// SettingsUpdate serializes s in wire order.
func SettingsUpdate(s Settings) Frame {
	data := make([]byte, 16)
	data[0] = s.StandbyBrightness
	binary.BigEndian.PutUint16(data[1:3], s.LineDelay)
	binary.BigEndian.PutUint16(data[3:5], s.MaxPowerMw)
	data[5] = s.StepSubdivision
	data[6] = s.XCommutationCompensation
	data[7] = s.YCommutationCompensation
	binary.BigEndian.PutUint16(data[8:10], s.StepCount)
	binary.BigEndian.PutUint16(data[10:12], s.SpeedUpperLimit)
	binary.BigEndian.PutUint16(data[12:14], s.SpeedLowerLimit)
	binary.BigEndian.PutUint16(data[14:16], s.PositioningSpeed)

	return Frame{Type: CommandSettingsUpdate, Payload: data}
}

// ParseMove extracts the deltas of a Move or InitEngrave frame.
func (f Frame) ParseMove() (dx, dy int16, ok bool) {
	if (f.Type != CommandMove && f.Type != CommandInitEngrave) || len(f.Payload) != 4 {
		return 0, 0, false
	}
	dx = int16(binary.BigEndian.Uint16(f.Payload[0:2]))
	dy = int16(binary.BigEndian.Uint16(f.Payload[2:4]))
	return dx, dy, true
}

// RunLength counts the leading "on" pixels of an Engrave frame bitmap.
func (f Frame) RunLength() int {
	if f.Type != CommandEngrave || len(f.Payload) < 6 {
		return 0
	}
	n := 0
	for _, b := range f.Payload[6:] {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask == 0 {
				return n
			}
			n++
		}
	}
	return n
}
