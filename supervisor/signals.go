package supervisor

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// exitEvent is one entry of the reaped-pid queue: a reaped pid and its
// raw wait status.
type exitEvent struct {
	pid    int
	status int
}

// signalSurface installs the POSIX handlers the supervisor needs and
// republishes their effects onto channels the event loop already selects
// on. This is the Go-idiomatic stand-in for the source's siglongjmp: no
// handler ever touches the Child Table, it only ever sends on a channel
// (os/signal's runtime-level delivery is itself async-signal-safe, and the
// reaper goroutine below is an ordinary goroutine, not a signal handler).
type signalSurface struct {
	osSignals chan os.Signal
	term      chan syscall.Signal
	exited    chan exitEvent
	stop      chan struct{}
}

func newSignalSurface() *signalSurface {
	s := &signalSurface{
		osSignals: make(chan os.Signal, 16),
		term:      make(chan syscall.Signal, 16),
		exited:    make(chan exitEvent, 256),
		stop:      make(chan struct{}),
	}
	signal.Notify(s.osSignals,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGPIPE,
		syscall.SIGCHLD,
	)
	go s.reapLoop()
	return s
}

func (s *signalSurface) close() {
	close(s.stop)
	signal.Stop(s.osSignals)
}

// termSignals exposes the non-SIGCHLD signals (SIGINT/SIGTERM/SIGHUP/
// SIGPIPE) for the event loop to select on directly.
func (s *signalSurface) termSignals() <-chan syscall.Signal {
	return s.term
}

// reapLoop is the SIGCHLD handler generalized into a goroutine: on every
// SIGCHLD wakeup it drains all reapable children via WNOHANG until Wait4
// reports none left (pid 0 or ECHILD). It does not look at the sender of
// the SIGCHLD, and ECHILD produces no event. Every other signal it merely
// forwards onto term for the event loop to act on. It never mutates the Child Table directly.
func (s *signalSurface) reapLoop() {
	for {
		select {
		case <-s.stop:
			return
		case sig := <-s.osSignals:
			unixSig, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			if unixSig != syscall.SIGCHLD {
				select {
				case s.term <- unixSig:
				case <-s.stop:
					return
				}
				continue
			}
			s.drainExited()
		}
	}
}

func (s *signalSurface) drainExited() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD || pid == 0 {
			return
		}
		if err != nil {
			return
		}
		status := int(ws)
		// Every reaped pid must eventually be reported, so this send
		// blocks rather than drops.
		s.exited <- exitEvent{pid: pid, status: status}
	}
}
