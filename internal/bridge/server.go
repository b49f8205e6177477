// internal/bridge/server.go
package bridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"go.uber.org/zap"

	"ser2tcp/internal/config"
	"ser2tcp/internal/model"
	"ser2tcp/internal/protocol"
)

const readBufferSize = 4096

// client is a live connection together with its readiness watcher
type client struct {
	conn    protocol.Connection
	watcher *watcher
}

// Server owns one listening endpoint and its live clients
type Server struct {
	cfg      config.ServerConfig
	protocol model.Protocol
	listener net.Listener
	watcher  *watcher
	bridge   *Bridge
	clients  []*client
	logger   *zap.Logger
	closed   bool
}

func newServer(cfg config.ServerConfig, b *Bridge, logger *zap.Logger) (*Server, error) {
	if cfg.Network() == "unix" {
		if err := removeStaleSocket(cfg.Address); err != nil {
			return nil, err
		}
	}

	ln, err := net.Listen(cfg.Network(), cfg.ListenAddress())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress(), err)
	}

	s := &Server{
		cfg:      cfg,
		protocol: model.Protocol(cfg.Protocol),
		listener: ln,
		bridge:   b,
	}
	s.logger = logger.With(
		zap.String("listen_addr", s.Address()),
		zap.String("protocol", cfg.Protocol),
	)

	s.watcher = newWatcher(DescriptorListener, s.Address())
	s.watcher.op = func() readiness {
		conn, err := ln.Accept()
		return readiness{conn: conn, err: err}
	}

	s.logger.Info("Server listening")
	return s, nil
}

// removeStaleSocket deletes a leftover socket file so the path can be bound again
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat socket path %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

// Address returns the bound listen address
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Protocol returns the protocol variant of the server
func (s *Server) Protocol() model.Protocol {
	return s.protocol
}

// HasConnections reports whether the server has at least one live client
func (s *Server) HasConnections() bool {
	return len(s.clients) > 0
}

// ConnectionCount returns the number of live clients
func (s *Server) ConnectionCount() int {
	return len(s.clients)
}

// Accept takes over a socket accepted by the listener. The first client of
// the server opens the bridge device; if that fails the socket is closed
// and never joins the live set.
func (s *Server) Accept(nc net.Conn) {
	remote := remoteAddr(nc)

	if len(s.clients) == 0 || !s.bridge.IsConnected() {
		if err := s.bridge.Connect(); err != nil {
			s.logger.Info("Client canceled", zap.String("remote_addr", remote), zap.Error(err))
			nc.Close()
			s.bridge.publish(model.EventClientCanceled, map[string]interface{}{
				"remote_addr": remote,
				"listen_addr": s.Address(),
				"reason":      err.Error(),
			})
			return
		}
	}

	opts := protocol.Options{
		Logger:       s.logger,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	if s.protocol == model.ProtocolLocal {
		opts.RemoteAddr = s.cfg.Address
	}

	conn, err := protocol.NewConnection(s.protocol, nc, s.bridge, opts)
	if err != nil {
		s.logger.Warn("Client setup failed", zap.String("remote_addr", remote), zap.Error(err))
		if conn != nil {
			conn.Close()
		} else {
			nc.Close()
		}
		// The device may have been opened for this client alone
		s.bridge.Disconnect()
		return
	}

	c := &client{conn: conn}
	c.watcher = newWatcher(DescriptorClient, conn.ID())
	c.watcher.op = readClient(nc)
	s.clients = append(s.clients, c)

	s.bridge.publish(model.EventClientConnected, map[string]interface{}{
		"connection_id": conn.ID(),
		"remote_addr":   conn.RemoteAddr(),
		"protocol":      string(conn.Protocol()),
	})
}

func readClient(nc net.Conn) func() readiness {
	return func() readiness {
		buf := make([]byte, readBufferSize)
		n, err := nc.Read(buf)
		return readiness{data: buf[:n], err: err}
	}
}

func remoteAddr(nc net.Conn) string {
	if addr := nc.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "local"
}

// Deliver sends device data to every live client. Clients whose send fails
// are removed once the pass is complete.
func (s *Server) Deliver(data []byte) {
	var failed []*client
	for _, c := range s.clients {
		if err := c.conn.Send(data); err != nil {
			s.logger.Info("Client send failed",
				zap.String("connection_id", c.conn.ID()),
				zap.Error(err),
			)
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}

	for _, c := range failed {
		s.removeClient(c, "send failed")
	}
	if len(s.clients) == 0 {
		s.bridge.Disconnect()
	}
}

// OnClientReadable handles the outcome of a read on a client socket. An
// empty read or a read error ends the connection.
func (s *Server) OnClientReadable(c *client, data []byte, readErr error) {
	if c.conn.IsClosed() {
		return
	}

	if len(data) > 0 {
		if err := c.conn.OnReceived(data); err != nil {
			s.logger.Debug("Client data not forwarded",
				zap.String("connection_id", c.conn.ID()),
				zap.Error(err),
			)
		}
		// A device failure while forwarding closes every client
		if c.conn.IsClosed() {
			return
		}
	}

	if readErr == nil && len(data) > 0 {
		return
	}

	reason := "peer closed"
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		reason = readErr.Error()
		if errors.Is(readErr, syscall.ECONNRESET) {
			reason = "connection reset"
		}
	}
	s.removeClient(c, reason)
	if len(s.clients) == 0 {
		s.bridge.Disconnect()
	}
}

// removeClient closes a client and drops it from the live set
func (s *Server) removeClient(c *client, reason string) {
	c.watcher.stop()
	if err := c.conn.Close(); err != nil {
		s.logger.Debug("Client close failed", zap.Error(err))
	}

	kept := s.clients[:0]
	for _, other := range s.clients {
		if other != c {
			kept = append(kept, other)
		}
	}
	for i := len(kept); i < len(s.clients); i++ {
		s.clients[i] = nil
	}
	s.clients = kept

	s.bridge.publish(model.EventClientDisconnected, map[string]interface{}{
		"connection_id": c.conn.ID(),
		"remote_addr":   c.conn.RemoteAddr(),
		"reason":        reason,
	})
}

// CloseConnections closes every live client without touching the device
func (s *Server) CloseConnections(reason string) {
	clients := s.clients
	s.clients = nil
	for _, c := range clients {
		c.watcher.stop()
		if err := c.conn.Close(); err != nil {
			s.logger.Debug("Client close failed", zap.Error(err))
		}
		s.bridge.publish(model.EventClientDisconnected, map[string]interface{}{
			"connection_id": c.conn.ID(),
			"remote_addr":   c.conn.RemoteAddr(),
			"reason":        reason,
		})
	}
}

// Close closes every client and then the listening socket
func (s *Server) Close() {
	if s.closed {
		return
	}
	s.CloseConnections("server closed")
	s.closeListener()
}

func (s *Server) closeListener() {
	if s.closed {
		return
	}
	s.closed = true
	s.watcher.stop()
	if err := s.listener.Close(); err != nil {
		s.logger.Debug("Listener close failed", zap.Error(err))
	}
	s.logger.Info("Server closed")
}

// descriptors returns the listener and every live client socket
func (s *Server) descriptors() []Descriptor {
	if s.closed {
		return nil
	}
	ds := make([]Descriptor, 0, len(s.clients)+1)
	ds = append(ds, s.watcher.descriptor())
	for _, c := range s.clients {
		ds = append(ds, c.watcher.descriptor())
	}
	return ds
}

// acceptReady accepts the pending client if the listener is in the ready set.
// A listener failure that is not caused by our own close is returned to the
// dispatcher.
func (s *Server) acceptReady(rs *ReadySet) error {
	if s.closed {
		return nil
	}
	ev, ok := rs.take(s.watcher)
	if !ok {
		return nil
	}
	if ev.err != nil {
		if errors.Is(ev.err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("accept on %s: %w", s.Address(), ev.err)
	}
	s.Accept(ev.conn)
	return nil
}

// clientsReady runs OnClientReadable for every ready client. It walks a
// copy of the live set so removals during the pass are safe.
func (s *Server) clientsReady(rs *ReadySet) {
	clients := append([]*client(nil), s.clients...)
	for _, c := range clients {
		ev, ok := rs.take(c.watcher)
		if !ok {
			continue
		}
		s.OnClientReadable(c, ev.data, ev.err)
	}
}

// Status returns a snapshot of the server and its clients
func (s *Server) Status() model.ServerStatus {
	st := model.ServerStatus{
		Address:     s.Address(),
		Protocol:    s.protocol,
		Connections: make([]model.ConnectionStatus, 0, len(s.clients)),
	}
	for _, c := range s.clients {
		st.Connections = append(st.Connections, c.conn.Status())
	}
	return st
}
