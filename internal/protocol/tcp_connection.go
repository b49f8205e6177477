// internal/protocol/tcp_connection.go
package protocol

import (
	"net"

	"ser2tcp/internal/model"
)

// TCPConnection is a raw TCP client: bytes pass through unmodified
type TCPConnection struct {
	baseConnection
}

// NewTCPConnection wraps an accepted TCP socket
func NewTCPConnection(conn net.Conn, device DeviceWriter, opts Options) *TCPConnection {
	c := &TCPConnection{
		baseConnection: newBaseConnection(conn, model.ProtocolRaw, device, opts),
	}
	c.logConnected()
	return c
}

// Send writes device data to the client
func (c *TCPConnection) Send(data []byte) error {
	return c.write(data)
}

// OnReceived forwards client data to the device
func (c *TCPConnection) OnReceived(data []byte) error {
	c.received(len(data))
	return c.forward(data)
}
