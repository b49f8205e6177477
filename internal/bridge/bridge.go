// internal/bridge/bridge.go
package bridge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ser2tcp/internal/config"
	"ser2tcp/internal/model"
	"ser2tcp/internal/protocol/serial"
	"ser2tcp/internal/utils"
)

// ErrDeviceNotConnected is returned when writing while the device is closed
var ErrDeviceNotConnected = errors.New("serial device not connected")

// EventPublisher receives bridge lifecycle events
type EventPublisher interface {
	Publish(event model.BridgeEvent)
}

// Option configures a Bridge
type Option func(*Bridge)

// WithOpener replaces the serial device opener
func WithOpener(opener serial.Opener) Option {
	return func(b *Bridge) {
		b.opener = opener
	}
}

// WithEventPublisher sets the destination of lifecycle events
func WithEventPublisher(p EventPublisher) Option {
	return func(b *Bridge) {
		b.events = p
	}
}

// WithLogger sets the base logger
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		b.baseLogger = logger
	}
}

// bridgeStats tracks device traffic
type bridgeStats struct {
	bytesRead    int64
	bytesWritten int64
	deviceErrors int64
}

// Bridge shares one serial device between the clients of its servers.
// The device is open exactly while at least one client is connected.
type Bridge struct {
	id         string
	cfg        config.SerialConfig
	opener     serial.Opener
	port       serial.Port
	device     *watcher
	servers    []*Server
	baseLogger *zap.Logger
	logger     *utils.BridgeLogger
	events     EventPublisher
	stats      bridgeStats
	closed     bool
}

// NewBridge binds every server of the entry. The device itself is opened
// lazily by the first client.
func NewBridge(id string, cfg config.BridgeConfig, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		id:         id,
		cfg:        cfg.Serial,
		opener:     serial.Open,
		baseLogger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = utils.NewBridgeLogger(b.baseLogger, id, cfg.Serial.Port)

	b.logger.Info("Serial bridge configured",
		zap.Int("baud_rate", b.cfg.BaudRate),
		zap.String("parity", b.cfg.Parity),
		zap.String("stop_bits", b.cfg.StopBits),
		zap.Int("data_bits", b.cfg.DataBits()),
	)
	if unsupported := serial.UnsupportedSettings(&b.cfg); len(unsupported) > 0 {
		b.logger.Warn("Serial settings not supported by the driver are ignored",
			zap.Strings("settings", unsupported),
		)
	}

	for _, sc := range cfg.Servers {
		s, err := newServer(sc, b, b.logger.Logger)
		if err != nil {
			for _, created := range b.servers {
				created.Close()
			}
			return nil, err
		}
		b.servers = append(b.servers, s)
	}

	return b, nil
}

// ID returns the bridge id
func (b *Bridge) ID() string {
	return b.id
}

// Servers returns the servers of the bridge
func (b *Bridge) Servers() []*Server {
	return b.servers
}

// IsConnected reports whether the device is open
func (b *Bridge) IsConnected() bool {
	return b.port != nil
}

// HasConnections reports whether any server has a live client
func (b *Bridge) HasConnections() bool {
	for _, s := range b.servers {
		if s.HasConnections() {
			return true
		}
	}
	return false
}

// ConnectionCount returns the number of live clients across all servers
func (b *Bridge) ConnectionCount() int {
	n := 0
	for _, s := range b.servers {
		n += s.ConnectionCount()
	}
	return n
}

// Connect opens the device unless it is already open
func (b *Bridge) Connect() error {
	if b.port != nil {
		return nil
	}
	if b.closed {
		return fmt.Errorf("bridge %s closed", b.id)
	}

	port, err := b.opener(&b.cfg)
	if err != nil {
		b.stats.deviceErrors++
		b.logger.LogDeviceState("Serial port connect failed", err)
		b.publish(model.EventDeviceError, map[string]interface{}{
			"phase": "open",
			"error": err.Error(),
		})
		return fmt.Errorf("failed to connect serial port %s: %w", b.cfg.Port, err)
	}

	b.port = port
	b.device = newWatcher(DescriptorDevice, b.cfg.Port)
	b.device.op = readDevice(port, b.device)

	b.logger.LogDeviceState("Serial port connected", nil, zap.Int("baud_rate", b.cfg.BaudRate))
	b.publish(model.EventDeviceConnected, nil)
	return nil
}

func readDevice(port serial.Port, w *watcher) func() readiness {
	return func() readiness {
		buf := make([]byte, readBufferSize)
		for {
			n, err := port.Read(buf)
			if n > 0 || err != nil {
				return readiness{data: buf[:n], err: err}
			}
			// Read timeout expired without data
			if w.stopped() {
				return readiness{err: ErrDeviceNotConnected}
			}
		}
	}
}

// Disconnect closes the device once no server has a live client
func (b *Bridge) Disconnect() {
	if b.port == nil || b.HasConnections() {
		return
	}
	b.closePort()
}

// closePort closes the device unconditionally
func (b *Bridge) closePort() {
	if b.port == nil {
		return
	}
	b.device.stop()
	if err := b.port.Close(); err != nil {
		b.logger.Debug("Serial port close failed", zap.Error(err))
	}
	b.port = nil
	b.device = nil

	b.logger.LogDeviceState("Serial port disconnected", nil)
	b.publish(model.EventDeviceDisconnected, nil)
}

// fail handles a device I/O error: every client of every server is closed
// and the device is marked disconnected. Other bridges are not affected.
func (b *Bridge) fail(err error) {
	b.stats.deviceErrors++
	b.logger.LogDeviceState("Serial port error", err, zap.Int("connections", b.ConnectionCount()))
	b.publish(model.EventDeviceError, map[string]interface{}{
		"phase": "io",
		"error": err.Error(),
	})

	for _, s := range b.servers {
		s.CloseConnections("serial port error")
	}
	b.closePort()
}

// Write sends client payload to the device
func (b *Bridge) Write(data []byte) error {
	if b.port == nil {
		return ErrDeviceNotConnected
	}

	for len(data) > 0 {
		n, err := b.port.Write(data)
		b.stats.bytesWritten += int64(n)
		if err == nil && n == 0 {
			err = errors.New("serial port accepted no data")
		}
		if err != nil {
			b.fail(err)
			return fmt.Errorf("failed to write to serial port: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// PumpDeviceIO reads the device if it is in the ready set and delivers the
// data to every server before the next device read is issued. A read error
// runs the failure path after the data read with it is delivered.
func (b *Bridge) PumpDeviceIO(rs *ReadySet) {
	if b.port == nil {
		return
	}
	ev, ok := rs.take(b.device)
	if !ok {
		return
	}

	// Bytes read together with an error still reach the clients
	if len(ev.data) > 0 {
		b.stats.bytesRead += int64(len(ev.data))
		if ce := b.logger.Check(zap.DebugLevel, "Serial data received"); ce != nil {
			ce.Write(zap.Int("bytes", len(ev.data)), zap.Binary("data", ev.data))
		}
		for _, s := range b.servers {
			s.Deliver(ev.data)
		}
	}

	if ev.err != nil && b.port != nil {
		b.fail(ev.err)
	}
}

// Descriptors returns the listening sockets, all live client sockets and
// the device handle when open
func (b *Bridge) Descriptors() []Descriptor {
	var ds []Descriptor
	for _, s := range b.servers {
		ds = append(ds, s.descriptors()...)
	}
	if b.device != nil {
		ds = append(ds, b.device.descriptor())
	}
	return ds
}

// Close closes every client, then the device, then the listening sockets
func (b *Bridge) Close() {
	if b.closed {
		return
	}
	b.logger.Info("Closing serial bridge")

	for _, s := range b.servers {
		s.CloseConnections("shutdown")
	}
	b.closePort()
	for _, s := range b.servers {
		s.closeListener()
	}
	b.closed = true
}

// Status returns a snapshot of the bridge
func (b *Bridge) Status() model.BridgeStatus {
	state := model.DeviceStateDisconnected
	if b.port != nil {
		state = model.DeviceStateConnected
	}

	st := model.BridgeStatus{
		ID:           b.id,
		SerialPort:   b.cfg.Port,
		BaudRate:     b.cfg.BaudRate,
		Parity:       b.cfg.Parity,
		StopBits:     b.cfg.StopBits,
		DataBits:     b.cfg.DataBits(),
		DeviceState:  state,
		BytesRead:    b.stats.bytesRead,
		BytesWritten: b.stats.bytesWritten,
		DeviceErrors: b.stats.deviceErrors,
		Servers:      make([]model.ServerStatus, 0, len(b.servers)),
	}
	for _, s := range b.servers {
		st.Servers = append(st.Servers, s.Status())
	}
	return st
}

func (b *Bridge) publish(eventType model.EventType, data map[string]interface{}) {
	if b.events == nil {
		return
	}
	b.events.Publish(model.NewBridgeEvent(eventType, b.id, b.cfg.Port, data))
}
