// Package singleinstance implements the single-instance enforcement and
// command channel of C7: exactly one primary process listens on a Unix
// socket; any later invocation detects the primary, forwards its
// toggle/show/hide command, and exits.
//
// Grounded on internal/ime's length-framed Unix socket protocol (same
// u32-LE-length-plus-UTF-8-payload framing, reused verbatim per spec.md §6
// — "same framing" is explicit in the wire table) but inverted: here
// nextalk is the server accepting connections rather than the client
// dialing one. The bind-or-probe-then-forward dance has no teacher
// analogue (the Wails app relies on the OS to prevent a second window);
// it is built directly from spec.md §4.7 and §8's single-instance property.
package singleinstance

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"nextalk/internal/session"
)

// MaxPayload mirrors internal/ime.MaxPayload — the command channel uses the
// same framing and the same size ceiling, per spec.md §6.
const MaxPayload = 1 << 20

const (
	dialTimeout = 5 * time.Second
	ackTimeout  = 30 * time.Second
)

// SocketPath returns $XDG_RUNTIME_DIR/nextalk-cmd.sock, falling back to
// /tmp when XDG_RUNTIME_DIR is unset, per spec.md §6.
func SocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return dir + "/nextalk-cmd.sock"
}

// Handler receives decoded commands forwarded from secondary invocations.
type Handler func(cmd session.Command)

// Server is the primary process's command channel listener.
type Server struct {
	path string
	ln   net.Listener
}

// Listen binds path (the daemon passes SocketPath()), removing a stale socket file left behind by a
// crashed primary (detected by a failed probe connect) before retrying the
// bind once. Returns (nil, nil) if another primary is already reachable —
// the caller should then act as a secondary via Send.
func Listen(path string) (*Server, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("singleinstance: bind %s: %w", path, err)
		}
		// Bind failed because the path exists. Probe it: if something
		// answers, a primary already owns it and we are a secondary.
		if probeAlive(path) {
			return nil, nil
		}
		// Stale socket file from a crashed primary — remove and retry once.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("singleinstance: remove stale socket %s: %w", path, rmErr)
		}
		ln, err = net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("singleinstance: bind %s after cleanup: %w", path, err)
		}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("singleinstance: chmod %s: %w", path, err)
	}
	return &Server{path: path, ln: ln}, nil
}

func probeAlive(path string) bool {
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isAddrInUse reports whether err is the EADDRINUSE net.Listen("unix", ...)
// returns when a file already exists at path.
func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// Serve accepts connections until ln is closed, decoding one framed command
// per connection and invoking handle for each. Serve returns nil when the
// listener is closed deliberately (via Close).
func (s *Server) Serve(handle Handler) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn, handle)
	}
}

func (s *Server) handleConn(conn net.Conn, handle Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ackTimeout))

	text, err := readFrame(conn)
	if err != nil {
		return
	}
	cmd, ok := parseCommand(text)
	if !ok {
		return
	}
	handle(cmd)
	conn.Write([]byte{1})
}

// Close releases the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

// Send is the secondary-invocation path: dial path, send cmd framed, and
// wait for the one-byte ack. Returns an error if no primary is reachable.
func Send(path string, cmd session.Command) error {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return fmt.Errorf("singleinstance: connect %s: %w", path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ackTimeout))

	if err := writeFrame(conn, string(cmd)); err != nil {
		return fmt.Errorf("singleinstance: send: %w", err)
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("singleinstance: ack: %w", err)
	}
	return nil
}

func writeFrame(w io.Writer, text string) error {
	payload := []byte(text)
	if len(payload) > MaxPayload {
		return fmt.Errorf("singleinstance: payload %d bytes exceeds %d", len(payload), MaxPayload)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (string, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxPayload {
		return "", fmt.Errorf("singleinstance: frame %d bytes exceeds %d", n, MaxPayload)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func parseCommand(text string) (session.Command, bool) {
	switch session.Command(text) {
	case session.CmdToggle, session.CmdShow, session.CmdHide:
		return session.Command(text), true
	default:
		return "", false
	}
}
