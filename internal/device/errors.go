package device

import "errors"

var (
	// ErrInvalidState is returned when an operation is attempted outside its required status.
	ErrInvalidState = errors.New("invalid device state")

	// ErrMissingConfiguration is fatal to the connect attempt.
	ErrMissingConfiguration = errors.New("missing configuration")

	// ErrOutOfRange is returned for move deltas wider than the 16-bit wire field.
	ErrOutOfRange = errors.New("move out of range")

	ErrNoDeviceFound   = errors.New("no device found")
	ErrAmbiguousDevice = errors.New("more than one device found")

	// ErrUnexpectedDisconnection reports the acknowledgement channel dropping mid-operation.
	ErrUnexpectedDisconnection = errors.New("unexpected disconnection")

	// ErrPositionUnknown is returned by positioned operations until the device is homed again.
	ErrPositionUnknown = errors.New("position unknown, homing required")
)
