// internal/protocol/protocol.go
package protocol

import (
	"net"
	"time"

	"ser2tcp/internal/model"
)

// DeviceWriter is the write path of the serial bridge that owns a connection
type DeviceWriter interface {
	Write(data []byte) error
}

// Connection represents one accepted client of a listening server
type Connection interface {
	// Identity
	ID() string
	Protocol() model.Protocol
	RemoteAddr() string
	Conn() net.Conn

	// Data communication
	Send(data []byte) error
	OnReceived(data []byte) error

	// Lifecycle
	Close() error
	IsClosed() bool

	// Diagnostics
	Status() model.ConnectionStatus
}

// ConnectionStats provides connection-level statistics
type ConnectionStats struct {
	BytesReceived int64     `json:"bytes_received"`
	BytesSent     int64     `json:"bytes_sent"`
	LastActivity  time.Time `json:"last_activity"`
}
