package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ser2tcp/internal/config"
)

func TestParseFlags(t *testing.T) {
	opts, exit, err := parseFlags([]string{"-c", "ser2tcp.yaml", "-vv"})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "ser2tcp.yaml", opts.configPath)
	assert.Equal(t, 2, opts.verbose)

	opts, _, err = parseFlags([]string{"--config=x.json", "--verbose"})
	require.NoError(t, err)
	assert.Equal(t, "x.json", opts.configPath)
	assert.Equal(t, 1, opts.verbose)

	_, exit, err = parseFlags([]string{"-V"})
	require.NoError(t, err)
	assert.True(t, exit)

	_, _, err = parseFlags(nil)
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"-c", "a.yaml", "extra"})
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func writeAppConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ser2tcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "s2t")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "app.sock")
}

func TestApplication_SkipsInvalidEntriesAndShutsDown(t *testing.T) {
	sock := shortSocketPath(t)
	path := writeAppConfig(t, fmt.Sprintf(`
app:
  environment: test
logging:
  level: error
bridges:
  - serial: {port: /dev/ser2tcp-missing-device}
    servers:
      - address: %s
        protocol: LOCAL
  - serial: {port: /dev/ttyS9}
    servers:
      - protocol: SSH
        port: 1
`, sock))

	app, err := NewApplication(options{configPath: path})
	require.NoError(t, err)
	require.Len(t, app.bridges, 1)
	assert.Nil(t, app.server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// The device does not exist, so the client is canceled right away
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	var netErr net.Error
	require.Error(t, err)
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "client was not closed")
	conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("application did not stop")
	}

	_, err = os.Stat(sock)
	assert.True(t, os.IsNotExist(err))
}

func TestApplication_NoUsableBridge(t *testing.T) {
	path := writeAppConfig(t, `
bridges:
  - serial: {port: /dev/ttyS9}
    servers:
      - protocol: RAW
`)

	_, err := NewApplication(options{configPath: path})
	assert.ErrorIs(t, err, config.ErrNoBridges)
}
