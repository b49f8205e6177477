// internal/telnet/filter.go
package telnet

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

// Telnet protocol constants (RFC 854)
const (
	SE   byte = 240 // Subnegotiation End
	NOP  byte = 241 // No Operation
	DM   byte = 242 // Data Mark
	BRK  byte = 243 // Break
	IP   byte = 244 // Interrupt Process
	AO   byte = 245 // Abort Output
	AYT  byte = 246 // Are You There
	EC   byte = 247 // Erase Character
	EL   byte = 248 // Erase Line
	GA   byte = 249 // Go Ahead
	SB   byte = 250 // Subnegotiation Begin
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255 // Interpret As Command
)

// Options requested from every client on connect
const (
	OptionEcho     byte = 0x01
	OptionLinemode byte = 0x22
)

var verbNames = map[byte]string{
	WILL: "WILL",
	WONT: "WONT",
	DO:   "DO",
	DONT: "DONT",
}

// VerbName returns the mnemonic of a negotiation verb
func VerbName(verb byte) string {
	if name, ok := verbNames[verb]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", verb)
}

// Handshake returns the negotiation sent to a client right after accept:
// IAC DO LINEMODE, IAC WILL ECHO.
func Handshake() []byte {
	return []byte{IAC, DO, OptionLinemode, IAC, WILL, OptionEcho}
}

// Encode escapes every IAC byte of a device payload by doubling it.
func Encode(data []byte) []byte {
	if bytes.IndexByte(data, IAC) < 0 {
		return data
	}
	out := make([]byte, 0, len(data)+bytes.Count(data, []byte{IAC}))
	for _, b := range data {
		out = append(out, b)
		if b == IAC {
			out = append(out, IAC)
		}
	}
	return out
}

type state int

const (
	stateIdle state = iota
	stateIAC
	stateOption
	stateSubnegotiation
	stateSubnegotiationIAC
)

// Command is a completed option negotiation received from the peer
type Command struct {
	Verb   byte
	Option byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s 0x%02x", VerbName(c.Verb), c.Option)
}

// Filter strips telnet commands from a client byte stream. Its state
// persists across Decode calls so sequences split between reads resume
// where they stopped. A Filter is owned by one connection and is not
// safe for concurrent use.
type Filter struct {
	state   state
	verb    byte
	sub     []byte
	logger  *zap.Logger
	onCmd   func(Command)
	onSubng func([]byte)
}

// NewFilter creates a filter that reports commands to logger
func NewFilter(logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{logger: logger}
}

// OnCommand registers a hook called for every completed negotiation
func (f *Filter) OnCommand(fn func(Command)) {
	f.onCmd = fn
}

// OnSubnegotiation registers a hook called for every completed subnegotiation frame
func (f *Filter) OnSubnegotiation(fn func([]byte)) {
	f.onSubng = fn
}

// Decode consumes a run of bytes received from the client and returns the
// payload that must be forwarded to the device. The result may be empty.
func (f *Filter) Decode(data []byte) []byte {
	var out []byte
	for len(data) > 0 {
		switch f.state {
		case stateIdle:
			i := bytes.IndexByte(data, IAC)
			if i < 0 {
				return append(out, data...)
			}
			out = append(out, data[:i]...)
			data = data[i+1:]
			f.state = stateIAC
			continue

		case stateIAC:
			out = f.command(data[0], out)

		case stateOption:
			f.negotiated(Command{Verb: f.verb, Option: data[0]})
			f.state = stateIdle

		case stateSubnegotiation:
			i := bytes.IndexByte(data, IAC)
			if i < 0 {
				f.sub = append(f.sub, data...)
				return out
			}
			f.sub = append(f.sub, data[:i]...)
			data = data[i+1:]
			f.state = stateSubnegotiationIAC
			continue

		case stateSubnegotiationIAC:
			switch data[0] {
			case SE:
				f.subnegotiated()
				f.state = stateIdle
			case IAC:
				f.sub = append(f.sub, IAC)
				f.state = stateSubnegotiation
			default:
				f.sub = append(f.sub, IAC, data[0])
				f.state = stateSubnegotiation
			}
		}
		data = data[1:]
	}
	return out
}

// command handles the byte following an IAC in the data stream
func (f *Filter) command(b byte, out []byte) []byte {
	switch b {
	case WILL, WONT, DO, DONT:
		f.verb = b
		f.state = stateOption
	case SB:
		f.sub = f.sub[:0]
		f.state = stateSubnegotiation
	case IAC:
		out = append(out, IAC)
		f.state = stateIdle
	default:
		f.logger.Warn("Unexpected telnet command", zap.String("command", fmt.Sprintf("0x%02x", b)))
		f.state = stateIdle
	}
	return out
}

func (f *Filter) negotiated(cmd Command) {
	f.logger.Debug("Telnet command received",
		zap.String("verb", VerbName(cmd.Verb)),
		zap.String("option", fmt.Sprintf("0x%02x", cmd.Option)),
	)
	if f.onCmd != nil {
		f.onCmd(cmd)
	}
}

func (f *Filter) subnegotiated() {
	frame := make([]byte, len(f.sub))
	copy(frame, f.sub)
	f.sub = f.sub[:0]

	f.logger.Debug("Telnet subnegotiation received", zap.String("data", hex.EncodeToString(frame)))
	if f.onSubng != nil {
		f.onSubng(frame)
	}
}
