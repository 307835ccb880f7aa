// Package wayland is a minimal client for the Wayland wire protocol: framed
// request/event codec, a Unix socket transport with fd passing, and the core
// wl_display / wl_registry / wl_callback objects.
//
// Every message is a header followed by 32-bit aligned arguments, in host
// byte order:
//
//	[ object id : u32 ][ size << 16 | opcode : u32 ][ args ... ]
//
// Strings and arrays are length-prefixed and padded to 4 bytes. File
// descriptors travel out of band as SCM_RIGHTS ancillary data.
package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerSize = 8

	// maxMessageSize bounds a single message, header included.
	maxMessageSize = 1 << 16
)

var order = binary.NativeEndian

// Request is an outgoing message being assembled.
type Request struct {
	sender uint32
	opcode uint16
	buf    []byte
	fds    []int
}

// NewRequest starts a request from object sender.
func NewRequest(sender uint32, opcode uint16) *Request {
	return &Request{sender: sender, opcode: opcode, buf: make([]byte, headerSize, 64)}
}

// Uint appends an unsigned 32-bit argument.
func (r *Request) Uint(v uint32) *Request {
	r.buf = order.AppendUint32(r.buf, v)
	return r
}

// Int appends a signed 32-bit argument.
func (r *Request) Int(v int32) *Request { return r.Uint(uint32(v)) }

// Object appends an object id; 0 encodes a null object.
func (r *Request) Object(id uint32) *Request { return r.Uint(id) }

// NewID appends a new_id argument.
func (r *Request) NewID(id uint32) *Request { return r.Uint(id) }

// String appends a NUL-terminated, padded string.
func (r *Request) String(s string) *Request {
	r.buf = order.AppendUint32(r.buf, uint32(len(s)+1))
	r.buf = append(r.buf, s...)
	r.buf = append(r.buf, 0)
	r.pad()
	return r
}

// Array appends a length-prefixed, padded byte array.
func (r *Request) Array(b []byte) *Request {
	r.buf = order.AppendUint32(r.buf, uint32(len(b)))
	r.buf = append(r.buf, b...)
	r.pad()
	return r
}

// FD attaches a file descriptor. Ownership passes to the connection, which
// closes it once the request has been written to the socket.
func (r *Request) FD(fd int) *Request {
	r.fds = append(r.fds, fd)
	return r
}

func (r *Request) pad() {
	for len(r.buf)%4 != 0 {
		r.buf = append(r.buf, 0)
	}
}

// Bytes finalises the header and returns the encoded message.
func (r *Request) Bytes() []byte {
	order.PutUint32(r.buf[0:4], r.sender)
	order.PutUint32(r.buf[4:8], uint32(len(r.buf))<<16|uint32(r.opcode))
	return r.buf
}

// FDs returns the descriptors attached to the request.
func (r *Request) FDs() []int { return r.fds }

// header is a decoded message header.
type header struct {
	sender uint32
	opcode uint16
	size   int
}

// parseHeader decodes the header at the start of b. ok is false when b does
// not yet hold a complete message.
func parseHeader(b []byte) (h header, ok bool, err error) {
	if len(b) < headerSize {
		return h, false, nil
	}
	word := order.Uint32(b[4:8])
	h = header{
		sender: order.Uint32(b[0:4]),
		opcode: uint16(word & 0xffff),
		size:   int(word >> 16),
	}
	if h.size < headerSize || h.size%4 != 0 {
		return h, false, fmt.Errorf("invalid message size %d", h.size)
	}
	return h, len(b) >= h.size, nil
}

var errShortMessage = errors.New("message truncated")

// Args decodes the arguments of one incoming event in order. The first
// decoding error sticks; check Err after reading all arguments.
type Args struct {
	b   []byte
	fds func() (int, bool)
	err error
}

func newArgs(payload []byte, fds func() (int, bool)) *Args {
	return &Args{b: payload, fds: fds}
}

// DecodeArgs returns a decoder over a raw message payload. fd arguments are
// taken from fds in order.
func DecodeArgs(payload []byte, fds []int) *Args {
	return newArgs(payload, func() (int, bool) {
		if len(fds) == 0 {
			return -1, false
		}
		fd := fds[0]
		fds = fds[1:]
		return fd, true
	})
}

// SplitMessage splits the first complete message off b. ok is false when b
// holds only part of a message.
func SplitMessage(b []byte) (sender uint32, opcode uint16, payload, rest []byte, ok bool, err error) {
	h, ok, err := parseHeader(b)
	if err != nil || !ok {
		return 0, 0, nil, b, false, err
	}
	return h.sender, h.opcode, b[headerSize:h.size], b[h.size:], true, nil
}

// Err reports the first decoding error.
func (a *Args) Err() error { return a.err }

func (a *Args) take(n int) []byte {
	if a.err != nil {
		return nil
	}
	if len(a.b) < n {
		a.err = errShortMessage
		return nil
	}
	out := a.b[:n]
	a.b = a.b[n:]
	return out
}

// Uint reads an unsigned 32-bit argument.
func (a *Args) Uint() uint32 {
	b := a.take(4)
	if b == nil {
		return 0
	}
	return order.Uint32(b)
}

// Int reads a signed 32-bit argument.
func (a *Args) Int() int32 { return int32(a.Uint()) }

// Object reads an object id; 0 is a null object.
func (a *Args) Object() uint32 { return a.Uint() }

// NewID reads a server-allocated object id.
func (a *Args) NewID() uint32 { return a.Uint() }

// String reads a string argument. A null string decodes as "".
func (a *Args) String() string {
	n := int(a.Uint())
	if n == 0 {
		return ""
	}
	b := a.take(padded(n))
	if b == nil {
		return ""
	}
	if b[n-1] != 0 {
		a.err = errors.New("string argument not NUL-terminated")
		return ""
	}
	return string(b[:n-1])
}

// Array reads a byte array argument.
func (a *Args) Array() []byte {
	n := int(a.Uint())
	b := a.take(padded(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b[:n]...)
}

// FD takes the next received file descriptor. The caller owns it.
func (a *Args) FD() int {
	if a.err != nil {
		return -1
	}
	fd, ok := a.fds()
	if !ok {
		a.err = errors.New("fd argument missing from ancillary data")
		return -1
	}
	return fd
}

func padded(n int) int { return (n + 3) &^ 3 }
