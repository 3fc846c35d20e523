package device

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
	StatusExecuting
	StatusDisconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusReady:
		return "READY"
	case StatusExecuting:
		return "EXECUTING"
	case StatusDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets statuses appear by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
