package telnet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedFilter() (*Filter, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewFilter(zap.New(core)), logs
}

func TestDecode_PlainBytesForwardedUnchanged(t *testing.T) {
	f, logs := newObservedFilter()

	in := []byte("plain payload \r\n with\x00 control \x7f bytes")
	assert.Equal(t, in, f.Decode(in))
	assert.Equal(t, 0, logs.Len())

	all := make([]byte, 0, 255)
	for b := 0; b < 255; b++ {
		all = append(all, byte(b))
	}
	assert.Equal(t, all, f.Decode(all))
}

func TestDecode_EscapedIAC(t *testing.T) {
	f, _ := newObservedFilter()
	assert.Equal(t, []byte{IAC}, f.Decode([]byte{IAC, IAC}))
	assert.Equal(t, []byte{'a', IAC, 'b'}, f.Decode([]byte{'a', IAC, IAC, 'b'}))
}

func TestDecode_NegotiationConsumed(t *testing.T) {
	for _, verb := range []byte{WILL, WONT, DO, DONT} {
		t.Run(VerbName(verb), func(t *testing.T) {
			f, logs := newObservedFilter()
			var got []Command
			f.OnCommand(func(c Command) { got = append(got, c) })

			out := f.Decode([]byte{IAC, verb, 0x18, 'x'})
			assert.Equal(t, []byte{'x'}, out)
			require.Len(t, got, 1)
			assert.Equal(t, Command{Verb: verb, Option: 0x18}, got[0])
			assert.Equal(t, 1, logs.FilterMessage("Telnet command received").Len())
		})
	}
}

func TestDecode_Subnegotiation(t *testing.T) {
	f, logs := newObservedFilter()
	var frames [][]byte
	f.OnSubnegotiation(func(b []byte) { frames = append(frames, b) })

	in := []byte{'a', IAC, SB, 0x18, 0x00, 'x', 't', 'e', 'r', 'm', IAC, SE, 'b'}
	assert.Equal(t, []byte("ab"), f.Decode(in))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x18, 0x00, 'x', 't', 'e', 'r', 'm'}, frames[0])
	assert.Equal(t, 1, logs.FilterMessage("Telnet subnegotiation received").Len())
}

func TestDecode_SubnegotiationWithEscapedIAC(t *testing.T) {
	f, _ := newObservedFilter()
	var frames [][]byte
	f.OnSubnegotiation(func(b []byte) { frames = append(frames, b) })

	out := f.Decode([]byte{IAC, SB, 0x2c, IAC, IAC, 0x01, IAC, SE})
	assert.Empty(t, out)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x2c, IAC, 0x01}, frames[0])
}

func TestDecode_UnexpectedCommand(t *testing.T) {
	f, logs := newObservedFilter()
	out := f.Decode([]byte{'a', IAC, NOP, 'b'})
	assert.Equal(t, []byte("ab"), out)
	assert.Equal(t, 1, logs.FilterMessage("Unexpected telnet command").Len())
}

func TestDecode_ResumesAcrossReads(t *testing.T) {
	stream := []byte{'h', 'i', IAC, WILL, OptionEcho, IAC, SB, 0x22, 0x01, IAC, SE, IAC, IAC, '!'}

	// Every possible split point must produce the same payload
	for split := 0; split <= len(stream); split++ {
		f, logs := newObservedFilter()
		var out []byte
		out = append(out, f.Decode(stream[:split])...)
		out = append(out, f.Decode(stream[split:])...)
		assert.Equal(t, []byte{'h', 'i', IAC, '!'}, out, "split at %d", split)
		assert.Equal(t, 1, logs.FilterMessage("Telnet command received").Len(), "split at %d", split)
		assert.Equal(t, 1, logs.FilterMessage("Telnet subnegotiation received").Len(), "split at %d", split)
	}

	// One byte at a time
	f, _ := newObservedFilter()
	var out []byte
	for _, b := range stream {
		out = append(out, f.Decode([]byte{b})...)
	}
	assert.Equal(t, []byte{'h', 'i', IAC, '!'}, out)
}

func TestDecode_CarriageReturnKept(t *testing.T) {
	f, _ := newObservedFilter()
	assert.Equal(t, []byte("line\r\n"), f.Decode([]byte("line\r\n")))
}

func TestDecode_HelloWorldScenario(t *testing.T) {
	f, logs := newObservedFilter()
	in := append([]byte("hello"), IAC, WILL, OptionEcho)
	in = append(in, []byte("world")...)
	assert.Equal(t, []byte("helloworld"), f.Decode(in))
	assert.Equal(t, 1, logs.FilterMessage("Telnet command received").Len())
}

func TestEncode(t *testing.T) {
	assert.Equal(t, []byte("resp"), Encode([]byte("resp")))
	assert.Equal(t, []byte{'r', 'e', 's', 'p', IAC, IAC}, Encode([]byte{'r', 'e', 's', 'p', IAC}))
	assert.Equal(t, []byte{IAC, IAC, IAC, IAC}, Encode([]byte{IAC, IAC}))
	assert.Empty(t, Encode(nil))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x00, IAC, 0x41, IAC, IAC}, 20)
	f, _ := newObservedFilter()
	assert.Equal(t, payload, f.Decode(Encode(payload)))
}

func TestHandshake(t *testing.T) {
	assert.Equal(t, []byte{0xff, 0xfd, 0x22, 0xff, 0xfb, 0x01}, Handshake())
}
