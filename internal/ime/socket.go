// Package ime implements the IME client (C5): a length-framed Unix stream
// socket protocol to the input-method addon, with connection-state tracking,
// degraded mode, and manual reconnect.
//
// The paste→clipboard-fallback call shape is kept from output_service.go's
// Send(text, onFallback); everything below that — the wire framing and the
// connecting/ready/failed state machine — has no teacher analogue (the
// teacher talks to the OS accessibility API via CGo, not a socket) and is
// enriched from doismellburning-samoyed's raw golang.org/x/sys/unix usage
// for the socket permission/symlink hardening.
package ime

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sys/unix"

	"nextalk/internal/capsule"
)

// MaxPayload is the largest frame the protocol accepts, per spec.md §6.
const MaxPayload = 1 << 20 // 1 MiB

const ackTimeout = 30 * time.Second

// State is the client connection state machine of spec.md §4.5.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Ready        State = "ready"
	Sending      State = "sending"
	Failed       State = "failed"
)

// Error wraps one of the closed socketError sub-kinds of spec.md §3.
type Error struct {
	SubKind capsule.SocketSubKind
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ime: %s: %v", e.SubKind, e.Err)
	}
	return fmt.Sprintf("ime: %s", e.SubKind)
}

func (e *Error) Unwrap() error { return e.Err }

// socketConn is the subset of net.Conn the client needs, so tests can
// inject an in-memory fake.
type socketConn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// dialer abstracts the Unix socket dial + permission check so tests can
// inject a fake endpoint.
type dialer interface {
	dial(path string) (socketConn, error)
}

type realDialer struct{}

// dial checks that the socket path is not a symlink, has mode 0600 and is
// owned by the current user, then connects. The file type is not checked,
// and the checks and the connect are separate steps, so a path swapped in
// between them is not detected.
func (realDialer) dial(path string) (socketConn, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{SubKind: capsule.SocketNotFound, Err: err}
		}
		return nil, &Error{SubKind: capsule.SocketConnectionFailed, Err: err}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, &Error{SubKind: capsule.SocketPermissionInsecure, Err: fmt.Errorf("%s is a symlink", path)}
	}
	if info.Mode().Perm() != 0600 {
		return nil, &Error{SubKind: capsule.SocketPermissionInsecure, Err: fmt.Errorf("%s has mode %#o, want 0600", path, info.Mode().Perm())}
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err == nil && int(st.Uid) != os.Getuid() {
		return nil, &Error{SubKind: capsule.SocketPermissionInsecure, Err: fmt.Errorf("%s is owned by uid %d, not the current user", path, st.Uid)}
	}

	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{SubKind: capsule.SocketNotFound, Err: err}
		}
		return nil, &Error{SubKind: capsule.SocketConnectionFailed, Err: err}
	}
	return conn, nil
}

// Client is a length-framed Unix socket client for one addon endpoint
// (the text-commit socket or the configuration socket — spec.md §6 gives
// both the same framing).
type Client struct {
	path   string
	dialer dialer

	mu    sync.Mutex
	state State
	conn  socketConn
	fail  *Error
}

// New creates a Client for the real addon endpoint at path.
func New(path string) *Client {
	return &Client{path: path, dialer: realDialer{}, state: Disconnected}
}

// newWithDialer creates a Client with an injectable dialer (tests only).
func newWithDialer(path string, d dialer) *Client {
	return &Client{path: path, dialer: d, state: Disconnected}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send trims text to non-empty printable content, connects if needed, writes
// the framed payload, and awaits a one-byte ack, per spec.md §4.5.
//
// Once failed, Send short-circuits to sendFailed until Reset is called —
// the degraded mode of spec.md §4.5.
func (c *Client) Send(text string) error {
	text = trimToPrintable(text)
	if text == "" {
		return nil
	}
	if len(text) > MaxPayload {
		err := &Error{SubKind: capsule.SocketMessageTooLarge}
		c.setFailed(err)
		return err
	}

	c.mu.Lock()
	if c.state == Failed {
		c.mu.Unlock()
		return &Error{SubKind: capsule.SocketSendFailed, Err: fmt.Errorf("client is in degraded mode, call Reset first")}
	}
	conn := c.conn
	c.state = Connecting
	c.mu.Unlock()

	if conn == nil {
		var err error
		conn, err = c.dialer.dial(c.path)
		if err != nil {
			ierr, ok := err.(*Error)
			if !ok {
				ierr = &Error{SubKind: capsule.SocketConnectionFailed, Err: err}
			}
			c.setFailed(ierr)
			return ierr
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.state = Sending
	c.mu.Unlock()

	if err := writeFrame(conn, text); err != nil {
		c.setFailed(&Error{SubKind: capsule.SocketSendFailed, Err: err})
		return c.fail
	}
	if err := readAck(conn); err != nil {
		c.setFailed(&Error{SubKind: capsule.SocketSendFailed, Err: err})
		return c.fail
	}
	conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.state = Ready
	c.mu.Unlock()
	return nil
}

// trimToPrintable implements spec.md §4.5's "Trim to printable content":
// strip leading/trailing whitespace and non-printable runes, mirroring
// whisper_service.go's trim() helper but generalized from stripping only
// spaces/newlines to unicode.IsSpace plus unicode.IsPrint, so a
// whitespace-only or control-character-padded partial (e.g. trailing VAD
// silence artifacts) reads as empty rather than being framed and sent to
// the addon. Runes between the first and last printable, non-space rune
// are kept as they are.
func trimToPrintable(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	})
}

func (c *Client) setFailed(err *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Failed
	c.fail = err
}

// Reset clears degraded mode and returns to disconnected, per spec.md
// §4.5. Reconnection itself happens lazily on the next Send, or explicitly
// via Reconnect.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.fail = nil
}

// Reconnect tears down any existing connection and dials the socket again
// right away; on success the next Send reuses the new connection. A failed
// dial leaves the client in degraded mode. Reconnect is never automatic — spec.md §4.5
// leaves the decision to call it up to C6.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dialer.dial(c.path)
	if err != nil {
		c.setFailed(&Error{SubKind: capsule.SocketReconnectFailed, Err: err})
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Ready
	c.mu.Unlock()
	return nil
}

func writeFrame(w io.Writer, text string) error {
	payload := []byte(text)
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readAck(conn socketConn) error {
	if err := conn.SetDeadline(time.Now().Add(ackTimeout)); err != nil {
		return err
	}
	buf := make([]byte, 1)
	_, err := io.ReadFull(conn, buf)
	return err
}
