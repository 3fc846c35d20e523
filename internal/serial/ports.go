package serial

import (
	"fmt"
	"io"
	"strings"

	"github.com/KevinKickass/OpenLaserCore/internal/device"
	goserial "go.bug.st/serial"
)

// PortEnumerator lists the serial ports present on the host.
type PortEnumerator interface {
	Ports() ([]string, error)
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baudRate int) (io.ReadWriteCloser, error)

// SystemPorts enumerates the host's serial ports.
type SystemPorts struct{}

func (SystemPorts) Ports() ([]string, error) {
	return goserial.GetPortsList()
}

// OpenPort opens name as 8N1 at baudRate.
func OpenPort(name string, baudRate int) (io.ReadWriteCloser, error) {
	port, err := goserial.Open(name, &goserial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

// ResolvePort returns configured when set, otherwise the only port the
// enumerator reports.
func ResolvePort(configured string, ports PortEnumerator) (string, error) {
	if configured != "" {
		return configured, nil
	}

	names, err := ports.Ports()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}

	switch len(names) {
	case 0:
		return "", device.ErrNoDeviceFound
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("%w: %s", device.ErrAmbiguousDevice, strings.Join(names, ", "))
	}
}

// StaticPorts is a fixed port list.
type StaticPorts []string

func (s StaticPorts) Ports() ([]string, error) {
	return s, nil
}
