package transport

import (
	"fmt"
	"net"
	"time"
)

// NetConn is a minimal [Conn] over a raw TCP connection to a master: one
// kind byte per message, followed by however many raw bytes the changeset
// needs. spec.md §1 treats the transport/master as an external
// collaborator; this is the smallest concrete thing cmd/flint-replicate
// needs to be runnable against a real socket, not a reimplementation of
// whatever richer session protocol a production master/replica pair would
// use.
//
// No third-party networking/framing library appears anywhere in this
// module's dependency lineage, so NetConn is built directly on net.Conn
// (see DESIGN.md).
type NetConn struct {
	conn net.Conn
}

// DialNetConn opens a TCP connection to addr.
func DialNetConn(addr string) (*NetConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	return &NetConn{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *NetConn) Close() error {
	return c.conn.Close()
}

// BeginMessage reads the single kind byte starting the next message.
func (c *NetConn) BeginMessage(deadline time.Time) (byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("setting read deadline: %w", err)
	}

	var kind [1]byte

	if _, err := readFull(c.conn, kind[:]); err != nil {
		return 0, wrapNetErr(err)
	}

	return kind[0], nil
}

// EnsureChunk reads from the connection until buf holds at least minLen
// bytes or deadline elapses.
func (c *NetConn) EnsureChunk(buf []byte, minLen int, deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return buf, fmt.Errorf("setting read deadline: %w", err)
	}

	tmp := make([]byte, ReasonableChunkSize)

	for len(buf) < minLen {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}

		if err != nil {
			return buf, wrapNetErr(err)
		}
	}

	return buf, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func wrapNetErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return err
}
