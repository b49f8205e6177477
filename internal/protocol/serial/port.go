// internal/protocol/serial/port.go
package serial

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"ser2tcp/internal/config"
)

// Port is an open serial device handle
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the device described by cfg
type Opener func(cfg *config.SerialConfig) (Port, error)

// Mode translates the serial configuration to a driver mode
func Mode(cfg *config.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits(),
	}

	switch cfg.Parity {
	case "NONE", "":
		mode.Parity = serial.NoParity
	case "ODD":
		mode.Parity = serial.OddParity
	case "EVEN":
		mode.Parity = serial.EvenParity
	case "MARK":
		mode.Parity = serial.MarkParity
	case "SPACE":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", cfg.Parity)
	}

	switch cfg.StopBits {
	case "ONE", "":
		mode.StopBits = serial.OneStopBit
	case "ONE_POINT_FIVE":
		mode.StopBits = serial.OnePointFiveStopBits
	case "TWO":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %s", cfg.StopBits)
	}

	// Hardware handshake lines are asserted when the peer expects them
	if cfg.RtsCts || cfg.DsrDtr {
		mode.InitialStatusBits = &serial.ModemOutputBits{
			RTS: cfg.RtsCts,
			DTR: cfg.DsrDtr,
		}
	}

	return mode, nil
}

// Open opens the serial device with the given configuration
func Open(cfg *config.SerialConfig) (Port, error) {
	mode, err := Mode(cfg)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	if timeout := ReadTimeout(cfg); timeout > 0 {
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	return port, nil
}

// MinReadTimeout bounds how often an idle device is polled
const MinReadTimeout = 10 * time.Millisecond

// ReadTimeout returns the read timeout applied to the device. Zero blocks
// until data arrives; positive values are raised to MinReadTimeout.
func ReadTimeout(cfg *config.SerialConfig) time.Duration {
	switch {
	case cfg.Timeout <= 0:
		return 0
	case cfg.Timeout < MinReadTimeout:
		return MinReadTimeout
	default:
		return cfg.Timeout
	}
}

// UnsupportedSettings lists configured options the serial driver cannot honor
func UnsupportedSettings(cfg *config.SerialConfig) []string {
	var unsupported []string
	if cfg.XonXoff {
		unsupported = append(unsupported, "xonxoff")
	}
	if cfg.WriteTimeout > 0 {
		unsupported = append(unsupported, "write_timeout")
	}
	if cfg.InterByteTimeout > 0 {
		unsupported = append(unsupported, "inter_byte_timeout")
	}
	return unsupported
}

// PortInfo describes a serial port present on the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts returns the serial ports available on the host
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ports, nil
	}

	// Fall back to the plain list when USB details are unavailable
	names, listErr := serial.GetPortsList()
	if listErr != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", listErr)
	}
	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}
	return ports, nil
}
