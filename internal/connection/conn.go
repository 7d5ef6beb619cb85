package connection

import (
	"bytes"
	"fmt"
	"net"

	"github.com/Viet-ph/reactor/config"
	custom_err "github.com/Viet-ph/reactor/internal/error"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Conn is a non-blocking client socket with a queue of pending writes.
type Conn struct {
	ID         uuid.UUID
	Fd         int
	writeQueue [][]byte
	remoteIP   net.IP
	remotePort int
}

func NewConn(connFd int, sa unix.Sockaddr) (*Conn, error) {
	var (
		ip   net.IP
		port int
	)
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip = net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
		port = addr.Port
	case *unix.SockaddrInet6:
		ip = net.IP(addr.Addr[:])
		port = addr.Port
	case *unix.SockaddrUnix:
		ip = net.IPv4zero
	default:
		return nil, fmt.Errorf("unknown address type %T", sa)
	}
	return &Conn{
		ID:         uuid.New(),
		Fd:         connFd,
		remoteIP:   ip,
		remotePort: port,
	}, nil
}

// Read drains what the kernel has buffered into buf. It returns 0 and no
// error when nothing was available.
func (conn *Conn) Read(buf *bytes.Buffer) (int, error) {
	temp := make([]byte, config.DefaultMessageSize)
	totalLength := 0
	for {
		bytesRead, err := unix.Read(conn.Fd, temp)
		if bytesRead == 0 || err == unix.ECONNRESET || err == unix.EPIPE {
			// Zero bytes is an orderly shutdown, the errors a forced one.
			return totalLength, custom_err.ErrorClientDisconnected
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return totalLength, fmt.Errorf("%w: %w", custom_err.ErrorReadingSocket, err)
		}

		buf.Write(temp[:bytesRead])
		totalLength += bytesRead

		// A short read emptied the kernel buffer.
		if bytesRead < len(temp) {
			break
		}
	}

	return totalLength, nil
}

// DrainQueue writes queued data until the queue is empty or the socket would
// block, in which case it returns ErrorNotFullyWritten.
func (conn *Conn) DrainQueue() error {
	for len(conn.writeQueue) > 0 {
		data := conn.writeQueue[0]
		n, err := unix.Write(conn.Fd, data)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return custom_err.ErrorNotFullyWritten
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				return custom_err.ErrorClientDisconnected
			}
			return err
		}
		if n < len(data) {
			conn.writeQueue[0] = data[n:]
			return custom_err.ErrorNotFullyWritten
		}

		conn.writeQueue[0] = nil
		conn.writeQueue = conn.writeQueue[1:]
	}

	return nil
}

// QueueDatas appends data and tries to write it right away.
func (conn *Conn) QueueDatas(data ...[]byte) error {
	for _, d := range data {
		if len(d) > 0 {
			conn.writeQueue = append(conn.writeQueue, bytes.Clone(d))
		}
	}
	return conn.DrainQueue()
}

func (conn *Conn) Pending() int {
	total := 0
	for _, data := range conn.writeQueue {
		total += len(data)
	}
	return total
}

func (conn *Conn) Close() error {
	return unix.Close(conn.Fd)
}

func (conn *Conn) GetRemoteAddress() (net.IP, int) {
	return conn.remoteIP, conn.remotePort
}
