package engraver

import (
	"encoding/binary"
	"fmt"
)

// Opcode (1 Byte) + Length (2 Bytes, includes header) + Payload
type Frame struct {
	Type    CommandType
	Payload []byte
}

// HeaderSize is the opcode byte plus the big-endian length field.
const HeaderSize = 3

// CommandType is the opcode leading every frame.
type CommandType byte

const (
	CommandMove           CommandType = 0x01
	CommandFanOn          CommandType = 0x04
	CommandFanOff         CommandType = 0x05
	CommandReset          CommandType = 0x06
	CommandEngrave        CommandType = 0x09
	CommandConnect        CommandType = 0x0A
	CommandInitEngrave    CommandType = 0x14
	CommandStop           CommandType = 0x16
	CommandHomeTopLeft    CommandType = 0x17
	CommandPause          CommandType = 0x18
	CommandContinue       CommandType = 0x19
	CommandHomeCenter     CommandType = 0x1A
	CommandDiscrete       CommandType = 0x1B
	CommandNonDiscrete    CommandType = 0x1C
	CommandSettingsUpdate CommandType = 0x28
)

func (t CommandType) String() string {
	switch t {
	case CommandMove:
		return "MOVE"
	case CommandFanOn:
		return "FAN_ON"
	case CommandFanOff:
		return "FAN_OFF"
	case CommandReset:
		return "RESET"
	case CommandEngrave:
		return "ENGRAVE"
	case CommandConnect:
		return "CONNECT"
	case CommandInitEngrave:
		return "INIT_ENGRAVE"
	case CommandStop:
		return "STOP"
	case CommandHomeTopLeft:
		return "HOME_TOP_LEFT"
	case CommandPause:
		return "PAUSE"
	case CommandContinue:
		return "CONTINUE"
	case CommandHomeCenter:
		return "HOME_CENTER"
	case CommandDiscrete:
		return "DISCRETE"
	case CommandNonDiscrete:
		return "NON_DISCRETE"
	case CommandSettingsUpdate:
		return "SETTINGS_UPDATE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// Encode builds the wire representation of the frame.
func (f Frame) Encode() []byte {
	length := HeaderSize + len(f.Payload)

	frame := make([]byte, length)
	frame[0] = byte(f.Type)
	binary.BigEndian.PutUint16(frame[1:3], uint16(length))
	copy(frame[HeaderSize:], f.Payload)

	return frame
}

// DecodeFrame parses exactly one frame. Trailing bytes are an error.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	length := int(binary.BigEndian.Uint16(data[1:3]))
	if length < HeaderSize {
		return Frame{}, fmt.Errorf("invalid frame length: %d", length)
	}
	if length != len(data) {
		return Frame{}, fmt.Errorf("frame length mismatch: header says %d, got %d bytes", length, len(data))
	}

	frame := Frame{Type: CommandType(data[0])}
	if length > HeaderSize {
		frame.Payload = append([]byte(nil), data[HeaderSize:]...)
	}

	return frame, nil
}

// IsEngrave reports whether the frame switches the device into its engrave sub-mode.
func (f Frame) IsEngrave() bool {
	return f.Type == CommandEngrave
}
