package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Viet-ph/reactor/clock"
	"github.com/Viet-ph/reactor/reactor"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// watchSignals stops r on SIGINT or SIGTERM. Signals arrive on another
// goroutine, so they are forwarded through a pipe the reactor watches.
func watchSignals(r *reactor.Reactor) (func(), error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, err
	}
	readFD, writeFD := fds[0], fds[1]
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(readFD)
			unix.Close(writeFD)
			return nil, err
		}
	}

	log := r.Logger()
	h := r.Watch(reactor.Read, reactor.TimeoutNever, reactor.Callbacks{
		OnReady: func(h *reactor.Handle, _ clock.Time) {
			drainPipe(readFD)
			log.Info("shutdown requested")
			r.Stop()
		},
		OnClose: func(*reactor.Handle, error) {
			unix.Close(readFD)
		},
	})
	if !h.Enable(readFD) {
		unix.Close(readFD)
		unix.Close(writeFD)
		return nil, reactor.ErrInvalidDescriptor
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer unix.Close(writeFD)
		for {
			select {
			case sig := <-sigs:
				log.Debug("signal received", zap.Stringer("signal", sig))
				unix.Write(writeFD, []byte{1})
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}, nil
}

// drainPipe empties a non-blocking pipe. It also returns at EOF, once the
// write end is gone.
func drainPipe(fd int) int {
	buf := make([]byte, 16)
	total := 0
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return total
		}
		total += n
	}
}
