package websocket

import (
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeDeviceStatus   MessageType = "device_status"
	MessageTypeDevicePosition MessageType = "device_position"
	MessageTypeJobStatus      MessageType = "job_status"

	// Sent once after registration
	MessageTypeState MessageType = "state"

	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

type DeviceStatusData struct {
	Status device.Status `json:"status"`
}

// DevicePositionData carries a nil position while the head is not homed.
type DevicePositionData struct {
	Position *device.Point `json:"position"`
}

type AuthData struct {
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// FromEvent converts a dispatcher event into its WebSocket message.
func FromEvent(ev dispatcher.Event) (Message, bool) {
	switch ev.Type {
	case dispatcher.EventDeviceStatus:
		if ev.Status == nil {
			return Message{}, false
		}
		return NewMessage(MessageTypeDeviceStatus, DeviceStatusData{Status: *ev.Status}), true
	case dispatcher.EventDevicePosition:
		return NewMessage(MessageTypeDevicePosition, DevicePositionData{Position: ev.Position}), true
	case dispatcher.EventJobStatus:
		if ev.Job == nil {
			return Message{}, false
		}
		return NewMessage(MessageTypeJobStatus, ev.Job), true
	default:
		return Message{}, false
	}
}
