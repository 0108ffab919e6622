package ime

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextalk/internal/capsule"
)

// fakeDialer hands out one side of an in-memory net.Pipe, or a canned error.
type fakeDialer struct {
	err      error
	serverFn func(net.Conn)
	dialed   int
}

func (f *fakeDialer) dial(path string) (socketConn, error) {
	f.dialed++
	if f.err != nil {
		return nil, f.err
	}
	client, server := net.Pipe()
	if f.serverFn != nil {
		go f.serverFn(server)
	} else {
		server.Close()
	}
	return client, nil
}

func ackingServer(conn net.Conn) {
	defer conn.Close()
	var header [4]byte
	if _, err := conn.Read(header[:]); err != nil {
		return
	}
	n := binary.LittleEndian.Uint32(header[:])
	payload := make([]byte, n)
	total := 0
	for total < int(n) {
		m, err := conn.Read(payload[total:])
		if err != nil {
			return
		}
		total += m
	}
	conn.Write([]byte{1})
}

func TestSendEmptyTextIsNoOp(t *testing.T) {
	d := &fakeDialer{}
	c := newWithDialer("/tmp/does-not-matter.sock", d)

	require.NoError(t, c.Send(""))
	assert.Equal(t, 0, d.dialed)
	assert.Equal(t, Disconnected, c.State())
}

func TestSendWhitespaceOnlyTextIsNoOp(t *testing.T) {
	d := &fakeDialer{}
	c := newWithDialer("/tmp/does-not-matter.sock", d)

	require.NoError(t, c.Send("   \n\t  "))
	assert.Equal(t, 0, d.dialed, "whitespace-only text must never dial the addon")
	assert.Equal(t, Disconnected, c.State())
}

func TestSendTrimsSurroundingWhitespaceBeforeFraming(t *testing.T) {
	var gotPayload []byte
	d := &fakeDialer{serverFn: func(conn net.Conn) {
		defer conn.Close()
		var header [4]byte
		if _, err := conn.Read(header[:]); err != nil {
			return
		}
		n := binary.LittleEndian.Uint32(header[:])
		payload := make([]byte, n)
		total := 0
		for total < int(n) {
			m, err := conn.Read(payload[total:])
			if err != nil {
				return
			}
			total += m
		}
		gotPayload = payload
		conn.Write([]byte{1})
	}}
	c := newWithDialer("/tmp/nextalk-fcitx5.sock", d)

	require.NoError(t, c.Send("  hello world  \n"))
	assert.Equal(t, "hello world", string(gotPayload))
}

func TestSendSucceedsAndTransitionsToReady(t *testing.T) {
	d := &fakeDialer{serverFn: ackingServer}
	c := newWithDialer("/tmp/nextalk-fcitx5.sock", d)

	require.NoError(t, c.Send("hello"))
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, 1, d.dialed)
}

func TestSendReusesExistingConnection(t *testing.T) {
	d := &fakeDialer{serverFn: func(conn net.Conn) {
		// A persistent server: acknowledge two frames on one connection.
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var header [4]byte
			if _, err := io.ReadFull(conn, header[:]); err != nil {
				return
			}
			payload := make([]byte, binary.LittleEndian.Uint32(header[:]))
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			conn.Write([]byte{1})
		}
	}}
	c := newWithDialer("/tmp/x.sock", d)

	require.NoError(t, c.Send("first"))
	require.NoError(t, c.Send("second"))
	assert.Equal(t, 1, d.dialed)
}

func TestSendRejectsOversizePayload(t *testing.T) {
	d := &fakeDialer{}
	c := newWithDialer("/tmp/x.sock", d)

	// Printable bytes, so trimming leaves the full length in place.
	big := make([]byte, MaxPayload+1)
	for i := range big {
		big[i] = 'a'
	}
	err := c.Send(string(big))

	require.Error(t, err)
	var imeErr *Error
	require.ErrorAs(t, err, &imeErr)
	assert.Equal(t, capsule.SocketMessageTooLarge, imeErr.SubKind)
	assert.Equal(t, Failed, c.State())
}

func TestSendPropagatesDialErrorAsSocketNotFound(t *testing.T) {
	d := &fakeDialer{err: &Error{SubKind: capsule.SocketNotFound, Err: errors.New("no such file")}}
	c := newWithDialer("/tmp/x.sock", d)

	err := c.Send("hi")
	require.Error(t, err)
	var imeErr *Error
	require.ErrorAs(t, err, &imeErr)
	assert.Equal(t, capsule.SocketNotFound, imeErr.SubKind)
	assert.Equal(t, Failed, c.State())
}

func TestSendAfterFailureShortCircuitsUntilReset(t *testing.T) {
	d := &fakeDialer{err: errors.New("boom")}
	c := newWithDialer("/tmp/x.sock", d)

	require.Error(t, c.Send("one"))
	assert.Equal(t, 1, d.dialed)

	err := c.Send("two")
	require.Error(t, err)
	var imeErr *Error
	require.ErrorAs(t, err, &imeErr)
	assert.Equal(t, capsule.SocketSendFailed, imeErr.SubKind)
	assert.Equal(t, 1, d.dialed, "degraded mode must not redial")

	c.Reset()
	assert.Equal(t, Disconnected, c.State())
}

func TestReconnectTearsDownAndRedials(t *testing.T) {
	d := &fakeDialer{serverFn: ackingServer}
	c := newWithDialer("/tmp/x.sock", d)
	require.NoError(t, c.Send("hello"))

	require.NoError(t, c.Reconnect())
	assert.Equal(t, Ready, c.State())
	assert.Equal(t, 2, d.dialed)
}

func TestSendFailsWhenServerClosesWithoutAck(t *testing.T) {
	d := &fakeDialer{serverFn: func(conn net.Conn) {
		// never writes the ack; hold the connection open briefly then close.
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}}
	c := newWithDialer("/tmp/x.sock", d)

	err := c.Send("hello")
	require.Error(t, err)
}
