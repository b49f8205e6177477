package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLDefaults(t *testing.T) {
	path := writeConfig(t, "ser2tcp.yaml", `
bridges:
  - serial:
      port: /dev/ttyUSB0
    servers:
      - port: 10001
        protocol: tcp
      - address: /tmp/ser2tcp.sock
        protocol: unix
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8084", cfg.GetAPIAddr())
	assert.Equal(t, 100*time.Millisecond, cfg.Dispatcher.PollTimeout)
	assert.True(t, cfg.IsProduction())

	require.Len(t, cfg.Bridges, 1)
	b := cfg.Bridges[0]
	assert.Equal(t, 115200, b.Serial.BaudRate)
	assert.Equal(t, "NONE", b.Serial.Parity)
	assert.Equal(t, "ONE", b.Serial.StopBits)
	assert.Equal(t, 8, b.Serial.DataBits())

	require.Len(t, b.Servers, 2)
	assert.Equal(t, ProtocolRaw, b.Servers[0].Protocol)
	assert.Equal(t, "0.0.0.0:10001", b.Servers[0].ListenAddress())
	assert.Equal(t, "tcp", b.Servers[0].Network())
	assert.Equal(t, 5*time.Second, b.Servers[0].WriteTimeout)

	assert.Equal(t, ProtocolLocal, b.Servers[1].Protocol)
	assert.Equal(t, "unix", b.Servers[1].Network())
	assert.Equal(t, "/tmp/ser2tcp.sock", b.Servers[1].ListenAddress())

	valid, err := cfg.SplitBridges()
	require.NoError(t, err)
	assert.Len(t, valid, 1)
}

func TestLoad_JSONSerialSettings(t *testing.T) {
	path := writeConfig(t, "ser2tcp.json", `{
  "logging": {"level": "debug", "format": "json"},
  "dispatcher": {"poll_timeout": "250ms"},
  "bridges": [{
    "serial": {
      "port": "/dev/ttyACM0",
      "baudrate": 9600,
      "parity": "even",
      "stopbits": "TWO",
      "bytesize": "SEVENBITS",
      "timeout": "50ms",
      "rtscts": true
    },
    "servers": [{"address": "127.0.0.1", "port": 10002, "protocol": "TELNET", "write_timeout": "1s"}]
  }]
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.PollTimeout)

	s := cfg.Bridges[0].Serial
	assert.Equal(t, 9600, s.BaudRate)
	assert.Equal(t, "EVEN", s.Parity)
	assert.Equal(t, "TWO", s.StopBits)
	assert.Equal(t, 7, s.DataBits())
	assert.Equal(t, 50*time.Millisecond, s.Timeout)
	assert.True(t, s.RtsCts)

	srv := cfg.Bridges[0].Servers[0]
	assert.Equal(t, ProtocolTelnet, srv.Protocol)
	assert.Equal(t, time.Second, srv.WriteTimeout)
}

func TestLoad_NumericTimeoutsAreSeconds(t *testing.T) {
	path := writeConfig(t, "seconds.json", `{
  "dispatcher": {"poll_timeout": 0.25},
  "bridges": [{
    "serial": {"port": "/dev/ttyUSB0", "timeout": 1, "write_timeout": 0.5, "inter_byte_timeout": "20ms"},
    "servers": [{"port": 10001, "protocol": "TCP", "write_timeout": 2}]
  }]
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	s := cfg.Bridges[0].Serial
	assert.Equal(t, time.Second, s.Timeout)
	assert.Equal(t, 500*time.Millisecond, s.WriteTimeout)
	assert.Equal(t, 20*time.Millisecond, s.InterByteTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.PollTimeout)
	assert.Equal(t, 2*time.Second, cfg.Bridges[0].Servers[0].WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.API.ReadTimeout)

	path = writeConfig(t, "seconds.yaml", `
bridges:
  - serial: {port: /dev/ttyUSB0, timeout: 3}
    servers: [{port: 10001, protocol: RAW, write_timeout: 1.5s}]
`)
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Bridges[0].Serial.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Bridges[0].Servers[0].WriteTimeout)
}

func TestLoad_NumericDurationFromEnvironment(t *testing.T) {
	t.Setenv("SER2TCP_DISPATCHER_POLL_TIMEOUT", "0.05")
	path := writeConfig(t, "env-seconds.yaml", `
bridges:
  - serial: {port: /dev/ttyS0}
    servers: [{port: 2000, protocol: RAW}]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatcher.PollTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, "empty.yaml", "logging:\n  level: info\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrNoBridges)

	path = writeConfig(t, "badlevel.yaml", `
logging:
  level: loud
bridges:
  - serial: {port: /dev/ttyS0}
    servers: [{port: 1, protocol: RAW}]
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("SER2TCP_LOGGING_LEVEL", "error")
	path := writeConfig(t, "env.yaml", `
bridges:
  - serial: {port: /dev/ttyS0}
    servers: [{port: 2000, protocol: RAW}]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestSplitBridges_RejectsInvalidEntries(t *testing.T) {
	path := writeConfig(t, "mixed.yaml", `
bridges:
  - serial: {port: /dev/ttyS0}
    servers: [{port: 2000, protocol: RAW}]
  - serial: {port: /dev/ttyS1}
    servers: [{protocol: RAW}]
  - serial: {port: /dev/ttyS2, parity: SOMETIMES}
    servers: [{port: 2002, protocol: TELNET}]
  - serial: {port: /dev/ttyS3}
    servers: [{port: 2003, protocol: HTTP}]
  - serial: {port: /dev/ttyS4}
    servers: []
  - serial: {port: /dev/ttyS5}
    servers: [{protocol: LOCAL}]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	valid, err := cfg.SplitBridges()
	require.Len(t, valid, 1)
	assert.Equal(t, "/dev/ttyS0", valid[0].Serial.Port)

	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 5)
	assert.Contains(t, errs[0].Error(), "/dev/ttyS1")
	assert.Contains(t, errs[4].Error(), "/dev/ttyS5")
}

func TestValidateBridge_MissingSerialPort(t *testing.T) {
	b := BridgeConfig{Servers: []ServerConfig{{Address: "0.0.0.0", Port: 1, Protocol: ProtocolRaw}}}
	applyBridgeDefaults(&b)
	assert.Error(t, ValidateBridge(validator.New(), &b))

	b.Serial.Port = "/dev/ttyS0"
	assert.NoError(t, ValidateBridge(validator.New(), &b))
}

func TestNormalizeProtocol(t *testing.T) {
	tests := map[string]string{
		"raw":     ProtocolRaw,
		"TCP":     ProtocolRaw,
		" telnet": ProtocolTelnet,
		"unix":    ProtocolLocal,
		"LOCAL":   ProtocolLocal,
		"ssh":     "SSH",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeProtocol(in), in)
	}
}

func TestDataBits(t *testing.T) {
	tests := map[string]int{
		"FIVEBITS":  5,
		"sixbits":   6,
		"7":         7,
		"EIGHTBITS": 8,
		"":          8,
	}
	for in, want := range tests {
		s := SerialConfig{ByteSize: in}
		assert.Equal(t, want, s.DataBits(), in)
	}
}
