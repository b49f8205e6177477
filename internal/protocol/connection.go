// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ser2tcp/internal/model"
	"ser2tcp/internal/utils"
)

// Options carries the per-server settings applied to every accepted connection
type Options struct {
	Logger       *zap.Logger
	WriteTimeout time.Duration
	// RemoteAddr overrides the peer address reported by the socket.
	// Local sockets have no meaningful peer address.
	RemoteAddr string
}

// baseConnection holds what every protocol variant shares: the socket,
// its address and close semantics
type baseConnection struct {
	id           string
	conn         net.Conn
	remoteAddr   string
	protocol     model.Protocol
	device       DeviceWriter
	logger       *zap.Logger
	writeTimeout time.Duration
	connectedAt  time.Time
	closed       bool
	stats        ConnectionStats
}

func newBaseConnection(conn net.Conn, protocol model.Protocol, device DeviceWriter, opts Options) baseConnection {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	remoteAddr := opts.RemoteAddr
	if remoteAddr == "" && conn.RemoteAddr() != nil {
		remoteAddr = conn.RemoteAddr().String()
	}

	id := uuid.New().String()
	return baseConnection{
		id:           id,
		conn:         conn,
		remoteAddr:   remoteAddr,
		protocol:     protocol,
		device:       device,
		logger:       utils.NewConnectionLogger(logger, id, remoteAddr, string(protocol)),
		writeTimeout: opts.WriteTimeout,
		connectedAt:  time.Now(),
	}
}

// ID returns the connection id
func (c *baseConnection) ID() string {
	return c.id
}

// Protocol returns the protocol variant
func (c *baseConnection) Protocol() model.Protocol {
	return c.protocol
}

// RemoteAddr returns the peer address
func (c *baseConnection) RemoteAddr() string {
	return c.remoteAddr
}

// Conn returns the client socket
func (c *baseConnection) Conn() net.Conn {
	return c.conn
}

// IsClosed reports whether Close has been called
func (c *baseConnection) IsClosed() bool {
	return c.closed
}

// Close closes the socket once and logs the disconnect
func (c *baseConnection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.conn.Close()
	c.logger.Info("Client disconnected",
		zap.Int64("bytes_received", c.stats.BytesReceived),
		zap.Int64("bytes_sent", c.stats.BytesSent),
	)
	if err != nil {
		return fmt.Errorf("failed to close client socket: %w", err)
	}
	return nil
}

// Status returns a snapshot of the connection
func (c *baseConnection) Status() model.ConnectionStatus {
	return model.ConnectionStatus{
		ID:            c.id,
		RemoteAddr:    c.remoteAddr,
		Protocol:      c.protocol,
		ConnectedAt:   c.connectedAt,
		BytesReceived: c.stats.BytesReceived,
		BytesSent:     c.stats.BytesSent,
	}
}

// logConnected emits the connect record of a freshly accepted client
func (c *baseConnection) logConnected() {
	c.logger.Info("Client connected")
}

// write sends data to the socket as a whole, bounded by the write timeout
func (c *baseConnection) write(data []byte) error {
	if c.closed {
		return fmt.Errorf("connection %s closed", c.id)
	}
	if len(data) == 0 {
		return nil
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	// net.Conn.Write returns an error for any short write
	n, err := c.conn.Write(data)
	c.stats.BytesSent += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to client: %w", err)
	}

	c.stats.LastActivity = time.Now()
	return nil
}

// forward passes client payload to the serial device
func (c *baseConnection) forward(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.stats.LastActivity = time.Now()
	if err := c.device.Write(data); err != nil {
		return fmt.Errorf("failed to forward to device: %w", err)
	}
	return nil
}

// received accounts for bytes read from the client socket
func (c *baseConnection) received(n int) {
	c.stats.BytesReceived += int64(n)
}
