package singleinstance

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nextalk/internal/session"
)

func TestListenThenServeForwardsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nextalk-cmd.sock")

	srv, err := Listen(path)
	require.NoError(t, err)
	require.NotNil(t, srv)
	defer srv.Close()

	received := make(chan session.Command, 1)
	go srv.Serve(func(cmd session.Command) { received <- cmd })

	require.NoError(t, Send(path, session.CmdToggle))

	select {
	case cmd := <-received:
		assert.Equal(t, session.CmdToggle, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded command")
	}
}

func TestSecondListenDetectsPrimary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nextalk-cmd.sock")

	primary, err := Listen(path)
	require.NoError(t, err)
	defer primary.Close()
	go primary.Serve(func(session.Command) {})

	secondary, err := Listen(path)
	require.NoError(t, err)
	assert.Nil(t, secondary, "a second Listen against a live primary should report no server to run")
}

func TestListenRecoversStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nextalk-cmd.sock")

	stale, err := Listen(path)
	require.NoError(t, err)
	// Simulate a crash: close the listener without unlinking its path, so
	// the socket file is left behind with nobody accepting on it.
	stale.ln.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.ln.Close()

	srv, err := Listen(path)
	require.NoError(t, err)
	require.NotNil(t, srv)
	defer srv.Close()

	go srv.Serve(func(session.Command) {})
	assert.NoError(t, Send(path, session.CmdShow))
}

func TestSendNoPrimaryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nextalk-cmd.sock")
	err := Send(path, session.CmdToggle)
	assert.Error(t, err)
}

func TestParseCommandRejectsUnknown(t *testing.T) {
	_, ok := parseCommand("bogus")
	assert.False(t, ok)

	cmd, ok := parseCommand(string(session.CmdHide))
	require.True(t, ok)
	assert.Equal(t, session.CmdHide, cmd)
}
