//go:build linux || darwin

package server_test

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Viet-ph/reactor/clock"
	"github.com/Viet-ph/reactor/config"
	"github.com/Viet-ph/reactor/reactor"
	"github.com/Viet-ph/reactor/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, idle time.Duration) (*reactor.Reactor, *server.EchoServer) {
	t.Helper()
	host, port, timeout := config.Host, config.Port, config.IdleTimeout
	t.Cleanup(func() { config.Host, config.Port, config.IdleTimeout = host, port, timeout })
	config.Host, config.Port, config.IdleTimeout = "127.0.0.1", 0, idle

	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	srv, err := server.NewEchoServer(r)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NotZero(t, srv.Port())
	return r, srv
}

// tickUntil runs the reactor on the test goroutine until done reports true.
func tickUntil(t *testing.T, r *reactor.Reactor, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		require.True(t, time.Now().Before(deadline), "timed out")
		require.NotEqual(t, reactor.StatusError, r.Tick(10*time.Millisecond))
	}
}

func dial(t *testing.T, srv *server.EchoServer) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEchoesClientData(t *testing.T) {
	r, srv := startServer(t, time.Minute)

	replies := make(chan string, 1)
	conn := dial(t, srv)
	go func() {
		conn.Write([]byte("hello reactor"))
		buf := make([]byte, len("hello reactor"))
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, _ := io.ReadFull(conn, buf)
		replies <- string(buf[:n])
	}()

	var reply string
	tickUntil(t, r, func() bool {
		select {
		case reply = <-replies:
			return true
		default:
			return false
		}
	})
	assert.Equal(t, "hello reactor", reply)
	assert.Equal(t, 1, srv.Clients())
}

func TestIdleClientIsDisconnected(t *testing.T) {
	r, srv := startServer(t, 50*time.Millisecond)

	closed := make(chan error, 1)
	conn := dial(t, srv)
	go func() {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := conn.Read(make([]byte, 1))
		closed <- err
	}()

	var readErr error
	tickUntil(t, r, func() bool {
		select {
		case readErr = <-closed:
			return true
		default:
			return false
		}
	})
	assert.ErrorIs(t, readErr, io.EOF)
	tickUntil(t, r, func() bool { return srv.Clients() == 0 })
}

func TestStopClosesEveryClient(t *testing.T) {
	r, srv := startServer(t, time.Minute)
	dial(t, srv)
	dial(t, srv)
	tickUntil(t, r, func() bool { return srv.Clients() == 2 })

	r.Post(func(clock.Time, any) error {
		r.Stop()
		return nil
	}, nil)
	status, err := r.Run(clock.Forever)
	require.NoError(t, err)
	assert.Equal(t, reactor.StatusNoObserver, status)
	assert.Zero(t, srv.Clients())
}
