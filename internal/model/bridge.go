// internal/model/bridge.go
package model

import "time"

// Protocol is the wire variant spoken by a listening server
type Protocol string

const (
	ProtocolRaw    Protocol = "RAW"
	ProtocolTelnet Protocol = "TELNET"
	ProtocolLocal  Protocol = "LOCAL"
)

// DeviceState represents the serial handle state of a bridge
type DeviceState string

const (
	DeviceStateDisconnected DeviceState = "DISCONNECTED"
	DeviceStateConnected    DeviceState = "CONNECTED"
)

// BridgeStatus is a point-in-time view of one bridge
type BridgeStatus struct {
	ID           string         `json:"id"`
	SerialPort   string         `json:"serial_port"`
	BaudRate     int            `json:"baud_rate"`
	Parity       string         `json:"parity"`
	StopBits     string         `json:"stop_bits"`
	DataBits     int            `json:"data_bits"`
	DeviceState  DeviceState    `json:"device_state"`
	BytesRead    int64          `json:"bytes_read"`
	BytesWritten int64          `json:"bytes_written"`
	DeviceErrors int64          `json:"device_errors"`
	Servers      []ServerStatus `json:"servers"`
}

// ServerStatus is a point-in-time view of one listening server
type ServerStatus struct {
	Address     string             `json:"address"`
	Protocol    Protocol           `json:"protocol"`
	Connections []ConnectionStatus `json:"connections"`
}

// ConnectionStatus is a point-in-time view of one client connection
type ConnectionStatus struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	Protocol      Protocol  `json:"protocol"`
	ConnectedAt   time.Time `json:"connected_at"`
	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
}

// ConnectionCount returns the number of live connections across all servers
func (b BridgeStatus) ConnectionCount() int {
	n := 0
	for _, s := range b.Servers {
		n += len(s.Connections)
	}
	return n
}
