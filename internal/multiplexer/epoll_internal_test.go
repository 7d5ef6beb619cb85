//go:build linux

package multiplexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollEventBufferGrowsAndShrinks(t *testing.T) {
	epoll, err := NewEpoll(64)
	require.NoError(t, err)
	defer epoll.Close()

	var fds []int
	for i := 0; i < 10; i++ {
		var p [2]int
		require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
		fds = append(fds, p[0], p[1])
	}
	defer func() {
		for _, fd := range fds {
			unix.Close(fd)
		}
	}()

	mux := epoll.dirs[Write]
	for i, fd := range fds {
		require.NoError(t, mux.Add(fd, Ref{Index: uint32(i), Gen: 1}))
	}
	assert.Equal(t, 20, mux.registered)
	assert.Equal(t, 32, len(mux.pollEvents))

	for _, fd := range fds[1:] {
		require.NoError(t, mux.Del(fd))
	}
	assert.Equal(t, 1, mux.registered)
	mux.Compact()
	assert.Equal(t, 16, len(mux.pollEvents))
}

func TestEpollOffKeepsEntry(t *testing.T) {
	epoll, err := NewEpoll(8)
	require.NoError(t, err)
	defer epoll.Close()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	mux := epoll.dirs[Read]
	require.NoError(t, mux.Add(p[0], Ref{Index: 1, Gen: 1}))
	require.NoError(t, mux.Off(p[0]))
	require.NoError(t, mux.Off(p[0]))
	assert.Zero(t, mux.registered)
	require.Contains(t, mux.entries, p[0])

	require.NoError(t, mux.Add(p[0], Ref{Index: 1, Gen: 2}))
	assert.Equal(t, 1, mux.registered)
	assert.True(t, mux.entries[p[0]].on)

	require.NoError(t, mux.Del(p[0]))
	assert.Zero(t, mux.registered)
	assert.NotContains(t, mux.entries, p[0])
}
