package supervisor

import "os"

// outputEvent is one `{output, stream, pid, bytes}` delivery from the
// stdout/stderr read path. A nil Data marks end-of-stream (EOF or read
// error), standing in for "close the fd and mark CLOSE".
type outputEvent struct {
	pid    int
	stream string // "stdout" or "stderr"
	data   []byte
}

const defaultReadChunk = 4096

// readChunkBytes is the read-path cap (default 4KiB per call); it is a
// package variable rather than a constant so applyConfigUpdate can change
// it for stream readers started afterwards. There is no separate drain
// mode: each reader keeps reading until EOF.
var readChunkBytes = defaultReadChunk

// startStreamReader runs for the lifetime of one open stdout/stderr fd: it
// issues blocking reads (Go's idiomatic stand-in for "non-blocking read,
// yield to select on EAGAIN" — one dedicated goroutine per fd gives the
// same per-stream ordering guarantee without hand-rolled readiness
// polling) and forwards each chunk, then a closing nil-data event, onto ch.
func startStreamReader(pid int, stream string, f *os.File, ch chan<- outputEvent) {
	buf := make([]byte, readChunkBytes)
	go func() {
		defer f.Close()
		for {
			n, err := f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				ch <- outputEvent{pid: pid, stream: stream, data: chunk}
			}
			if err != nil {
				ch <- outputEvent{pid: pid, stream: stream, data: nil}
				return
			}
		}
	}()
}

// startStdinWriter drains backlog to f in FIFO order, waking on backlog.push
// and on stop (closed when the loop erases the record). A write error or a
// stop signal closes f and returns. Short writes never surface here:
// os.File.Write already loops until complete or error, collapsing the
// original's "incomplete"/"done" write-path states into one call, and the
// OS pipe's own buffer supplies the backpressure the original's
// select/EAGAIN dance exists to approximate.
func startStdinWriter(f *os.File, backlog *stdinBacklog, stop <-chan struct{}) {
	go func() {
		defer f.Close()
		defer backlog.markClosed()
		for {
			for _, chunk := range backlog.drain() {
				if _, err := f.Write(chunk); err != nil {
					return
				}
			}
			select {
			case <-backlog.wake:
			case <-stop:
				for _, chunk := range backlog.drain() {
					if _, err := f.Write(chunk); err != nil {
						return
					}
				}
				return
			}
		}
	}()
}
