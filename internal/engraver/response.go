package engraver

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Acknowledgement bytes sent by the device after every command in discrete mode.
const (
	ResponseFailed    byte = 0x08
	ResponseCompleted byte = 0x09
)

// UnexpectedResponseError reports acknowledgement bytes other than Completed.
type UnexpectedResponseError struct {
	Bytes []byte
}

func (e *UnexpectedResponseError) Error() string {
	data := e.Bytes
	if len(data) > 512 {
		data = data[:512]
	}
	return fmt.Sprintf("unexpected device response: %s", strings.ToUpper(hex.EncodeToString(data)))
}

// CheckResponse validates a single acknowledgement byte.
func CheckResponse(b byte) error {
	if b != ResponseCompleted {
		return &UnexpectedResponseError{Bytes: []byte{b}}
	}
	return nil
}
