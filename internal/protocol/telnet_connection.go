// internal/protocol/telnet_connection.go
package protocol

import (
	"fmt"
	"net"

	"ser2tcp/internal/model"
	"ser2tcp/internal/telnet"
)

// TelnetConnection speaks the telnet protocol: commands are stripped from
// client input and IAC bytes are escaped in device output
type TelnetConnection struct {
	baseConnection
	filter *telnet.Filter
}

// NewTelnetConnection wraps an accepted socket and sends the option
// handshake. No reply is awaited.
func NewTelnetConnection(conn net.Conn, device DeviceWriter, opts Options) (*TelnetConnection, error) {
	c := &TelnetConnection{
		baseConnection: newBaseConnection(conn, model.ProtocolTelnet, device, opts),
	}
	c.filter = telnet.NewFilter(c.logger)
	c.logConnected()

	if err := c.write(telnet.Handshake()); err != nil {
		return c, fmt.Errorf("telnet handshake: %w", err)
	}
	return c, nil
}

// Send escapes and writes device data to the client
func (c *TelnetConnection) Send(data []byte) error {
	return c.write(telnet.Encode(data))
}

// OnReceived strips telnet commands and forwards the remaining payload
func (c *TelnetConnection) OnReceived(data []byte) error {
	c.received(len(data))
	return c.forward(c.filter.Decode(data))
}
