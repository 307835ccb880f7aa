// Package wire frames sync messages over a stream connection.
//
// Every message is one line. Without a key the line is the JSON encoding of
// the message; with a key it is base64(nonce+ciphertext) so that framing is
// the same in both modes.
package wire

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.klb.dev/mpclip/internal/crypto"
	"go.klb.dev/mpclip/internal/message"
)

const (
	// MaxLineSize bounds a single encoded line. A 16 MiB clip grows by a
	// third under base64, twice when encrypted.
	MaxLineSize = 48 << 20

	// WriteTimeout bounds each WriteMsg.
	WriteTimeout = 5 * time.Second
)

// ErrLineTooLong is returned by ReadMsg when a peer sends a line longer than
// MaxLineSize. The connection is unusable afterwards.
var ErrLineTooLong = errors.New("wire: line too long")

// Conn is a message-framed net.Conn. WriteMsg may be called from several
// goroutines; ReadMsg must only be called from one.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	key  *crypto.Key

	wmu sync.Mutex
}

// New wraps conn. A nil key means plaintext JSON.
func New(conn net.Conn, key *crypto.Key) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64<<10),
		key:  key,
	}
}

// Close closes the underlying connection, unblocking ReadMsg.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetReadTimeout arms a read deadline d from now. Zero clears it.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	if d == 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.Now().Add(d))
}

// WriteMsg encodes, optionally seals, and writes msg as one line.
func (c *Conn) WriteMsg(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	line := raw
	if c.key != nil {
		ct, err := crypto.Seal(raw, c.key)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		line = make([]byte, base64.StdEncoding.EncodedLen(len(ct)))
		base64.StdEncoding.Encode(line, ct)
	}
	line = append(line, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	_, err = c.conn.Write(line)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadMsg reads and decodes the next line.
func (c *Conn) ReadMsg() (*message.Message, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	raw := line
	if c.key != nil {
		ct := make([]byte, base64.StdEncoding.DecodedLen(len(line)))
		n, err := base64.StdEncoding.Decode(ct, line)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		raw, err = crypto.Open(ct[:n], c.key)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	return message.Decode(raw)
}

// readLine returns the next line without its terminator, refusing to buffer
// more than MaxLineSize bytes.
func (c *Conn) readLine() ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := c.br.ReadSlice('\n')
		if buf.Len()+len(chunk) > MaxLineSize+1 {
			return nil, ErrLineTooLong
		}
		buf.Write(chunk)
		switch {
		case err == nil:
			line := buf.Bytes()
			return bytes.TrimSuffix(line[:len(line)-1], []byte("\r")), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}
