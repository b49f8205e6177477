// internal/protocol/unix_connection.go
package protocol

import (
	"net"

	"ser2tcp/internal/model"
)

// UnixConnection is a local-socket client: bytes pass through unmodified
type UnixConnection struct {
	baseConnection
}

// NewUnixConnection wraps an accepted unix domain socket
func NewUnixConnection(conn net.Conn, device DeviceWriter, opts Options) *UnixConnection {
	c := &UnixConnection{
		baseConnection: newBaseConnection(conn, model.ProtocolLocal, device, opts),
	}
	c.logConnected()
	return c
}

// Send writes device data to the client
func (c *UnixConnection) Send(data []byte) error {
	return c.write(data)
}

// OnReceived forwards client data to the device
func (c *UnixConnection) OnReceived(data []byte) error {
	c.received(len(data))
	return c.forward(data)
}
