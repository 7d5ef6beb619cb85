package server

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/Viet-ph/reactor/clock"
	"github.com/Viet-ph/reactor/config"
	"github.com/Viet-ph/reactor/internal/connection"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"github.com/Viet-ph/reactor/reactor"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// EchoServer writes back whatever its clients send. Everything runs from the
// reactor's tick.
type EchoServer struct {
	reactor  *reactor.Reactor
	log      *zap.Logger
	fd       int
	listener *reactor.Handle
	clients  map[int]*client
}

type client struct {
	conn  *connection.Conn
	read  *reactor.Handle
	write *reactor.Handle
	// open counts handles whose OnClose has not run yet.
	open int
}

func NewEchoServer(r *reactor.Reactor) (*EchoServer, error) {
	serverFD, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(serverFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(serverFD)
		return nil, fmt.Errorf("setsockopt: %w", err)
	}

	if err := unix.SetNonblock(serverFD, true); err != nil {
		unix.Close(serverFD)
		return nil, fmt.Errorf("set non-block: %w", err)
	}

	ip4 := net.ParseIP(config.Host).To4()
	if ip4 == nil {
		unix.Close(serverFD)
		return nil, fmt.Errorf("invalid IPv4 host %q", config.Host)
	}
	if err := unix.Bind(serverFD, &unix.SockaddrInet4{
		Port: config.Port,
		Addr: [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]},
	}); err != nil {
		unix.Close(serverFD)
		return nil, fmt.Errorf("bind %s:%d: %w", config.Host, config.Port, err)
	}

	return &EchoServer{
		reactor: r,
		log:     r.Logger().Named("echo"),
		fd:      serverFD,
		clients: make(map[int]*client),
	}, nil
}

// Start listens and registers the listening socket with the reactor.
func (server *EchoServer) Start() error {
	if err := unix.Listen(server.fd, config.MaximumClients); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server.listener = server.reactor.Watch(reactor.Read, reactor.TimeoutNever, reactor.Callbacks{
		OnReady: server.acceptNewConnections,
		OnClose: func(_ *reactor.Handle, err error) {
			if err != nil {
				server.log.Error("listener dropped", zap.Error(err))
			}
			unix.Close(server.fd)
			server.log.Info("listener closed")
		},
	})
	if !server.listener.Enable(server.fd) {
		return fmt.Errorf("listener fd %d: %w", server.fd, custom_err.ErrorInvalidDescriptor)
	}

	server.log.Info("ready to accept connections", zap.Int("port", server.Port()))
	return nil
}

// Port is the bound port, useful when config.Port is 0.
func (server *EchoServer) Port() int {
	sa, err := unix.Getsockname(server.fd)
	if err != nil {
		return 0
	}
	if addr, ok := sa.(*unix.SockaddrInet4); ok {
		return addr.Port
	}
	return 0
}

func (server *EchoServer) Clients() int {
	return len(server.clients)
}

func (server *EchoServer) acceptNewConnections(_ *reactor.Handle, _ clock.Time) {
	for {
		connFD, sa, err := unix.Accept(server.fd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.ECONNABORTED {
				server.log.Warn("error accepting connection", zap.Error(err))
			}
			return
		}

		if len(server.clients) >= config.MaximumClients {
			server.log.Warn("client limit reached", zap.Int("limit", config.MaximumClients))
			unix.Close(connFD)
			continue
		}

		if err := server.register(connFD, sa); err != nil {
			server.log.Warn("error registering client", zap.Int("fd", connFD), zap.Error(err))
			unix.Close(connFD)
		}
	}
}

func (server *EchoServer) register(connFD int, sa unix.Sockaddr) error {
	if err := unix.SetNonblock(connFD, true); err != nil {
		return err
	}
	unix.CloseOnExec(connFD)

	conn, err := connection.NewConn(connFD, sa)
	if err != nil {
		return err
	}

	c := &client{conn: conn, open: 2}
	c.read = server.reactor.Watch(reactor.Read, config.IdleTimeout, reactor.Callbacks{
		OnReady:   func(*reactor.Handle, clock.Time) { server.handleReadableEvent(c) },
		OnTimeout: func(*reactor.Handle, clock.Time) { server.closeClient(c, "idle") },
		OnClose:   func(_ *reactor.Handle, err error) { server.release(c, err) },
	})
	c.write = server.reactor.Watch(reactor.Write, reactor.TimeoutNever, reactor.Callbacks{
		OnReady: func(*reactor.Handle, clock.Time) { server.handleWritableEvent(c) },
		OnClose: func(_ *reactor.Handle, err error) { server.release(c, err) },
	})
	if !c.read.Enable(connFD) || !c.write.Enable(connFD) {
		// A stale registration of the same fd is still tearing down.
		c.read.Disable()
		c.write.Disable()
		return fmt.Errorf("fd %d still registered", connFD)
	}
	c.write.Suspend()
	server.clients[connFD] = c

	ip, port := conn.GetRemoteAddress()
	server.log.Debug("client connected",
		zap.Stringer("conn_id", conn.ID), zap.Stringer("ip", ip), zap.Int("port", port))
	return nil
}

func (server *EchoServer) handleReadableEvent(c *client) {
	buf := bytes.NewBuffer(make([]byte, 0, config.DefaultMessageSize))
	_, readErr := c.conn.Read(buf)

	if buf.Len() > 0 {
		err := c.conn.QueueDatas(buf.Bytes())
		switch {
		case err == nil:
		case errors.Is(err, custom_err.ErrorNotFullyWritten):
			c.write.Resume()
		default:
			server.closeClient(c, err.Error())
			return
		}
	}

	if readErr != nil {
		server.closeClient(c, readErr.Error())
	}
}

func (server *EchoServer) handleWritableEvent(c *client) {
	err := c.conn.DrainQueue()
	switch {
	case err == nil:
		c.write.Suspend()
	case errors.Is(err, custom_err.ErrorNotFullyWritten):
	default:
		server.closeClient(c, err.Error())
	}
}

// closeClient disables both handles. The socket is closed once both are gone
// from the backend.
func (server *EchoServer) closeClient(c *client, reason string) {
	if c.read.State() == reactor.Disabled && c.write.State() == reactor.Disabled {
		return
	}
	server.log.Debug("closing client", zap.Stringer("conn_id", c.conn.ID), zap.String("reason", reason))
	c.read.Disable()
	c.write.Disable()
}

func (server *EchoServer) release(c *client, err error) {
	if err != nil {
		server.log.Warn("client dropped by backend", zap.Stringer("conn_id", c.conn.ID), zap.Error(err))
		server.closeClient(c, "backend")
	}
	c.open--
	if c.open > 0 {
		return
	}
	if server.clients[c.conn.Fd] == c {
		delete(server.clients, c.conn.Fd)
	}
	if err := c.conn.Close(); err != nil {
		server.log.Warn("error closing client socket", zap.Stringer("conn_id", c.conn.ID), zap.Error(err))
	}
}
