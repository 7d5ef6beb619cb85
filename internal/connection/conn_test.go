package connection_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/Viet-ph/reactor/internal/connection"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPair(t *testing.T) (*connection.Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() { unix.Close(fds[1]) })

	conn, err := connection.NewConn(fds[0], &unix.SockaddrUnix{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, fds[1]
}

func TestNewConnRecordsRemoteAddress(t *testing.T) {
	conn, err := connection.NewConn(9, &unix.SockaddrInet4{Port: 5000, Addr: [4]byte{10, 0, 0, 1}})
	require.NoError(t, err)
	ip, port := conn.GetRemoteAddress()
	assert.True(t, ip.Equal(net.IPv4(10, 0, 0, 1)))
	assert.Equal(t, 5000, port)
	assert.NotEqual(t, conn.ID.String(), "")

	other, err := connection.NewConn(10, &unix.SockaddrInet4{})
	require.NoError(t, err)
	assert.NotEqual(t, conn.ID, other.ID)
}

func TestReadDrainsSocket(t *testing.T) {
	conn, peer := newPair(t)

	var buf bytes.Buffer
	n, err := conn.Read(&buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = unix.Write(peer, []byte("hello"))
	require.NoError(t, err)
	n, err = conn.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", buf.String())
}

func TestReadReportsDisconnect(t *testing.T) {
	conn, peer := newPair(t)
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	var buf bytes.Buffer
	_, err := conn.Read(&buf)
	assert.ErrorIs(t, err, custom_err.ErrorClientDisconnected)
}

func TestQueueDatasWritesThrough(t *testing.T) {
	conn, peer := newPair(t)
	require.NoError(t, conn.QueueDatas([]byte("ab"), nil, []byte("c")))
	assert.Zero(t, conn.Pending())

	got := make([]byte, 8)
	n, err := unix.Read(peer, got)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got[:n]))
}

func TestQueueDatasKeepsRemainderWhenFull(t *testing.T) {
	conn, peer := newPair(t)
	chunk := bytes.Repeat([]byte("x"), 64*1024)

	var err error
	for i := 0; i < 64 && err == nil; i++ {
		err = conn.QueueDatas(chunk)
	}
	require.ErrorIs(t, err, custom_err.ErrorNotFullyWritten)
	assert.Positive(t, conn.Pending())

	buf := make([]byte, 64*1024)
	for conn.Pending() > 0 {
		for {
			if _, rerr := unix.Read(peer, buf); rerr != nil {
				break
			}
		}
		err = conn.DrainQueue()
		if err != nil {
			require.ErrorIs(t, err, custom_err.ErrorNotFullyWritten)
		}
	}
	assert.NoError(t, conn.DrainQueue())
}
