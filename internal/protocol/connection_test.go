package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ser2tcp/internal/model"
)

// recordingDevice collects everything forwarded to the device
type recordingDevice struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (d *recordingDevice) Write(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.writes = append(d.writes, append([]byte(nil), data...))
	return nil
}

func (d *recordingDevice) all() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Join(d.writes, nil)
}

// peer drains the client side of a pipe in the background
type peer struct {
	conn net.Conn
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
}

func newPeer(conn net.Conn) *peer {
	p := &peer{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		b := make([]byte, 1024)
		for {
			n, err := conn.Read(b)
			p.mu.Lock()
			p.buf.Write(b[:n])
			p.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return p
}

func (p *peer) received() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

func (p *peer) waitFor(t *testing.T, want []byte) {
	t.Helper()
	require.Eventually(t, func() bool { return bytes.Equal(p.received(), want) },
		time.Second, 5*time.Millisecond, "peer received %x", p.received())
}

func newObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestTelnetConnection_HandshakeAndEscaping(t *testing.T) {
	server, client := net.Pipe()
	p := newPeer(client)
	device := &recordingDevice{}
	logger, logs := newObserved()

	conn, err := NewConnection(model.ProtocolTelnet, server, device, Options{Logger: logger, WriteTimeout: time.Second})
	require.NoError(t, err)
	defer conn.Close()

	p.waitFor(t, []byte{0xff, 0xfd, 0x22, 0xff, 0xfb, 0x01})

	entries := logs.FilterMessage("Client connected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "TELNET", entries[0].ContextMap()["protocol"])

	require.NoError(t, conn.Send([]byte{'r', 'e', 's', 'p', 0xff}))
	p.waitFor(t, []byte{0xff, 0xfd, 0x22, 0xff, 0xfb, 0x01, 'r', 'e', 's', 'p', 0xff, 0xff})
}

func TestTelnetConnection_OnReceivedFilters(t *testing.T) {
	server, client := net.Pipe()
	newPeer(client)
	device := &recordingDevice{}

	conn, err := NewConnection(model.ProtocolTelnet, server, device, Options{})
	require.NoError(t, err)
	defer conn.Close()

	in := append([]byte("hello"), 0xff, 0xfb, 0x01)
	in = append(in, []byte("world")...)
	require.NoError(t, conn.OnReceived(in))
	assert.Equal(t, []byte("helloworld"), device.all())

	// A pure negotiation forwards nothing
	require.NoError(t, conn.OnReceived([]byte{0xff, 0xfd, 0x03}))
	assert.Len(t, device.writes, 1)
	assert.Equal(t, int64(len(in)+3), conn.Status().BytesReceived)
}

func TestRawVariants_PassThrough(t *testing.T) {
	for _, proto := range []model.Protocol{model.ProtocolRaw, model.ProtocolLocal} {
		t.Run(string(proto), func(t *testing.T) {
			server, client := net.Pipe()
			p := newPeer(client)
			device := &recordingDevice{}

			conn, err := NewConnection(proto, server, device, Options{RemoteAddr: "/tmp/test.sock"})
			require.NoError(t, err)
			defer conn.Close()
			assert.Equal(t, proto, conn.Protocol())
			assert.Equal(t, "/tmp/test.sock", conn.RemoteAddr())

			payload := []byte{'a', 0xff, 0xfb, 0x01, 'b'}
			require.NoError(t, conn.Send(payload))
			p.waitFor(t, payload)

			require.NoError(t, conn.OnReceived(payload))
			assert.Equal(t, payload, device.all())
		})
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	server, client := net.Pipe()
	p := newPeer(client)
	logger, logs := newObserved()

	conn, err := NewConnection(model.ProtocolRaw, server, &recordingDevice{}, Options{Logger: logger})
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 1, logs.FilterMessage("Client disconnected").Len())

	<-p.done
	assert.Error(t, conn.Send([]byte("late")))
}

func TestConnection_DeviceErrorPropagates(t *testing.T) {
	server, client := net.Pipe()
	newPeer(client)
	device := &recordingDevice{err: errors.New("device gone")}

	conn, err := NewConnection(model.ProtocolRaw, server, device, Options{})
	require.NoError(t, err)
	defer conn.Close()

	assert.Error(t, conn.OnReceived([]byte("x")))
	assert.NoError(t, conn.OnReceived(nil))
}

func TestConnection_WriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	conn, err := NewConnection(model.ProtocolRaw, server, &recordingDevice{}, Options{WriteTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer conn.Close()

	// Nobody reads the client side of the pipe
	err = conn.Send([]byte("stalled"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}

func TestNewConnection_UnknownProtocol(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_, err := NewConnection(model.Protocol("SSH"), server, &recordingDevice{}, Options{})
	assert.Error(t, err)
}
