// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"net"

	"ser2tcp/internal/model"
)

// NewConnection creates the protocol-specific connection for an accepted socket.
// On error the returned connection, if any, still owns the socket and must be closed.
func NewConnection(protocol model.Protocol, conn net.Conn, device DeviceWriter, opts Options) (Connection, error) {
	switch protocol {
	case model.ProtocolRaw:
		return NewTCPConnection(conn, device, opts), nil
	case model.ProtocolTelnet:
		c, err := NewTelnetConnection(conn, device, opts)
		return c, err
	case model.ProtocolLocal:
		return NewUnixConnection(conn, device, opts), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}
}
