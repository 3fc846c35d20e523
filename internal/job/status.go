package job

// Status of a job. Cancelled, Failed and Done are terminal.
type Status uint8

const (
	StatusNone      Status = 0
	StatusRunning   Status = 1
	StatusPaused    Status = 2
	StatusCancelled Status = 4
	StatusFailed    Status = 8
	StatusDone      Status = 12
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusFailed:
		return "FAILED"
	case StatusDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether a job in status s can never run again.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusFailed || s == StatusDone
}
