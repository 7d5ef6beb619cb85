//go:build linux || darwin

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { unix.Close(fds[0]) })
	return fds[0], fds[1]
}

func TestDrainPipeEmptiesPendingBytes(t *testing.T) {
	readFD, writeFD := newPipe(t)
	t.Cleanup(func() { unix.Close(writeFD) })

	_, err := unix.Write(writeFD, make([]byte, 40))
	require.NoError(t, err)
	assert.Equal(t, 40, drainPipe(readFD))
	assert.Zero(t, drainPipe(readFD))
}

func TestDrainPipeStopsAtEOF(t *testing.T) {
	readFD, writeFD := newPipe(t)
	_, err := unix.Write(writeFD, []byte{1, 1})
	require.NoError(t, err)
	require.NoError(t, unix.Close(writeFD))

	assert.Equal(t, 2, drainPipe(readFD))
	assert.Zero(t, drainPipe(readFD))
}
