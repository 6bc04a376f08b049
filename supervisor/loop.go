package supervisor

import (
	"errors"
	"io"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rivenq/execport/wire"
)

// Run drives the event loop until a termination signal, a `shutdown`
// request, or a control-channel read failure, then performs teardown
// before returning. The returned exit code is 0 on clean shutdown (a
// `shutdown` request or the peer closing the channel), 1 on SIGINT/SIGTERM/
// SIGHUP, and 90-n on a control channel read error n (90 when the error
// carries no errno).
func (s *Supervisor) Run() int {
	go s.readLoop()
	defer s.sig.close()
	defer s.devNull.Close()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if s.terminated {
			break
		}
		select {
		case msg, ok := <-s.requests:
			if !ok {
				continue
			}
			s.handleRequest(msg)

		case err := <-s.readErr:
			s.pipeValid = false
			s.terminated = true
			switch {
			case errors.Is(err, io.EOF):
				// The peer closed the control channel: the Erlang-side
				// analogue of stdin closing, which is a clean shutdown
				// trigger, not a failure.
				s.terminatedCode = 0
			default:
				s.log.Error("control channel read failed", "error", err)
				var errno syscall.Errno
				if errors.As(err, &errno) {
					s.terminatedCode = 90 - int(errno)
				} else {
					s.terminatedCode = 90
				}
			}

		case ev := <-s.output:
			s.handleOutput(ev)

		case ex := <-s.sig.exited:
			s.handleExit(ex)

		case sig := <-s.sig.termSignals():
			s.handleOSSignal(sig)

		case <-ticker.C:
			s.sweepDeadlines()
			s.livenessSweep()

		case req := <-s.snapshotReq:
			req <- s.buildSnapshot()

		case req := <-s.killReq:
			req.result <- s.adminKill(req.pid, req.sig)

		case upd := <-s.configReq:
			s.applyConfigUpdate(upd)
			close(upd.done)
		}
	}

	s.teardown()
	return s.terminatedCode
}

func (s *Supervisor) readLoop() {
	for {
		msg, err := s.codec.ReadMessage()
		if err != nil {
			s.readErr <- err
			return
		}
		s.requests <- msg
	}
}

func (s *Supervisor) handleOSSignal(sig syscall.Signal) {
	switch sig {
	case syscall.SIGPIPE:
		s.pipeValid = false
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP:
		s.terminated = true
		if s.terminatedCode == 0 {
			s.terminatedCode = 1
		}
	}
}

func (s *Supervisor) handleRequest(msg wire.Term) {
	cmd, err := DecodeRequest(msg)
	if err != nil {
		var reason Reason
		if errors.As(err, &reason) {
			s.reply(replyError(transIdOf(msg), reason))
		} else {
			s.reply(replyError(transIdOf(msg), Badarg))
		}
		return
	}
	s.dispatch(cmd)
}

// transIdOf best-effort extracts TransId from a malformed envelope so error
// replies still echo it when possible; badarg envelopes with no decodable
// TransId fall back to 0.
func transIdOf(msg wire.Term) int64 {
	tup, err := msg.AsTuple()
	if err != nil || len(tup) != 2 {
		return 0
	}
	id, err := tup[0].AsInt()
	if err != nil {
		return 0
	}
	return id
}

func (s *Supervisor) dispatch(cmd Command) {
	switch cmd.Kind {
	case CmdManage:
		s.doManage(cmd)
	case CmdRun, CmdShell:
		s.doSpawn(cmd)
	case CmdStop:
		s.doStop(cmd)
	case CmdKill:
		s.doKill(cmd)
	case CmdList:
		s.reply(replyOkPids(cmd.TransId, s.table.pids()))
	case CmdStdin:
		s.doStdin(cmd)
	case CmdShutdown:
		s.terminated = true
		s.terminatedCode = 0
	}
}

func (s *Supervisor) doManage(cmd Command) {
	if _, exists := s.table.find(cmd.OsPid); exists {
		s.reply(replyError(cmd.TransId, errorf("pid %d already managed", cmd.OsPid)))
		return
	}
	if err := syscall.Kill(cmd.OsPid, 0); err != nil {
		s.reply(replyError(cmd.TransId, PidNotAlive))
		return
	}
	rec := newChildRecord("", cmd.OsPid, true)
	rec.KillCmd = cmd.Options.KillCmd
	if cmd.Options.KillTimeoutMs > 0 {
		rec.KillTimeout = time.Duration(cmd.Options.KillTimeoutMs) * time.Millisecond
	}
	s.table.insert(rec)
	s.tails.Store(rec.CmdPid, &rec.tail)
	s.reply(replyOkPid(cmd.TransId, cmd.OsPid))
}

func (s *Supervisor) doSpawn(cmd Command) {
	res, err := s.spawner.spawn(cmd.Cmd, cmd.Options)
	if err != nil {
		var reason Reason
		if errors.As(err, &reason) {
			s.reply(replyError(cmd.TransId, reason))
		} else {
			s.reply(replyError(cmd.TransId, couldNotStart(err.Error())))
		}
		return
	}

	rec := newChildRecord(cmd.Cmd, res.pid, false)
	rec.KillCmd = cmd.Options.KillCmd
	if cmd.Options.KillTimeoutMs > 0 {
		rec.KillTimeout = time.Duration(cmd.Options.KillTimeoutMs) * time.Millisecond
	} else {
		rec.KillTimeout = time.Duration(s.cfg.DefaultKillMs) * time.Millisecond
	}
	rec.Stdin = cmd.Options.Stdin
	rec.Stdout = cmd.Options.Stdout
	rec.Stderr = cmd.Options.Stderr
	rec.Stdin.file = res.stdinFile
	rec.Stdout.file = res.stdoutFile
	rec.Stderr.file = res.stderrFile

	if rec.Stdout.file != nil {
		rec.pendingStreams++
		startStreamReader(rec.CmdPid, "stdout", rec.Stdout.file, s.output)
	}
	if rec.Stderr.file != nil {
		rec.pendingStreams++
		startStreamReader(rec.CmdPid, "stderr", rec.Stderr.file, s.output)
	}
	if rec.Stdin.file != nil {
		startStdinWriter(rec.Stdin.file, rec.stdin, rec.stdinStop)
	}

	s.table.insert(rec)
	s.tails.Store(rec.CmdPid, &rec.tail)

	if res.niceWarning != "" {
		s.log.Warn(res.niceWarning, "pid", res.pid)
	}
	s.reply(replyOkPid(cmd.TransId, res.pid))
}

func (s *Supervisor) doStop(cmd Command) {
	rec, ok := s.table.find(cmd.OsPid)
	if !ok {
		s.reply(replyError(cmd.TransId, PidNotAlive))
		return
	}
	reason, _ := s.shut.requestStop(rec, time.Now())
	if reason != nil {
		s.reply(replyError(cmd.TransId, *reason))
		return
	}
	s.reply(replyOk(cmd.TransId))
}

func (s *Supervisor) doKill(cmd Command) {
	if cmd.Signal < 1 || cmd.Signal > 64 {
		s.reply(replyError(cmd.TransId, invalidSignal(cmd.Signal)))
		return
	}
	_, tracked := s.table.find(cmd.OsPid)
	if s.cfg.Superuser && !tracked {
		s.reply(replyError(cmd.TransId, errorf("Cannot kill a pid not managed by this application")))
		return
	}
	if err := syscall.Kill(cmd.OsPid, syscall.Signal(cmd.Signal)); err != nil {
		s.reply(replyError(cmd.TransId, mapKillErrno(err)))
		return
	}
	s.reply(replyOk(cmd.TransId))
}

// adminKill implements RequestKill: always restricted to tracked pids,
// independent of Config.Superuser (which only governs the wire `kill`
// command).
func (s *Supervisor) adminKill(pid, sig int) error {
	if _, tracked := s.table.find(pid); !tracked {
		return PidNotAlive
	}
	if err := syscall.Kill(pid, syscall.Signal(sig)); err != nil {
		return mapKillErrno(err)
	}
	return nil
}

func (s *Supervisor) doStdin(cmd Command) {
	rec, ok := s.table.find(cmd.OsPid)
	if !ok {
		return
	}
	if rec.Stdin.Kind != RedirectErl || rec.Stdin.file == nil {
		return
	}
	rec.stdin.push(cmd.Data)
}

func (s *Supervisor) handleOutput(ev outputEvent) {
	rec, ok := s.table.find(ev.pid)
	if !ok {
		return
	}
	if ev.data == nil {
		rec.pendingStreams--
		if ev.stream == "stdout" {
			rec.Stdout.file = nil
		} else {
			rec.Stderr.file = nil
		}
		s.maybeFinalize(ev.pid)
		return
	}
	rec.tail.append(ev.data)
	if s.pipeValid {
		_ = s.codec.WriteMessage(eventOutput(ev.stream, ev.pid, ev.data))
	}
}

func (s *Supervisor) handleExit(ex exitEvent) {
	if _, isHelper := s.shut.untrackHelper(ex.pid); isHelper {
		return
	}
	rec, ok := s.table.find(ex.pid)
	if !ok {
		return
	}
	status := ex.status
	if rec.Sigterm {
		status = 0
	}
	rec.exitStatus = &status
	s.maybeFinalize(ex.pid)
}

func (s *Supervisor) maybeFinalize(pid int) {
	rec, ok := s.table.find(pid)
	if !ok {
		return
	}
	if rec.exitStatus == nil || rec.pendingStreams > 0 {
		return
	}
	if s.pipeValid {
		_ = s.codec.WriteMessage(eventExitStatus(pid, *rec.exitStatus))
	}
	if s.ExitHook != nil {
		s.ExitHook(pid, rec.Cmd, *rec.exitStatus, rec.Managed)
	}
	s.tails.Delete(pid)
	s.table.erase(pid)
}

func (s *Supervisor) sweepDeadlines() {
	now := time.Now()
	for _, rec := range s.table.iter() {
		s.shut.sweep(rec, now)
	}
}

// livenessSweep probes every still-tracked pid with a signal-0 kill and
// synthesizes an exit event for anything that no longer exists. A pid
// attached via `manage` is not a child of this process, so SIGCHLD/Wait4
// never reaps it; an externally-spawned child can also be reparented away
// before it exits. This is the only path that ever detects either case,
// mirroring the original's check_children sweep, which pushes (pid, -1)
// to the exited queue on ESRCH.
func (s *Supervisor) livenessSweep() {
	for _, rec := range s.table.iter() {
		if rec.exitStatus != nil {
			continue
		}
		if err := syscall.Kill(rec.CmdPid, 0); err == syscall.ESRCH {
			s.handleExit(exitEvent{pid: rec.CmdPid, status: -1})
		}
	}
}

// applyConfigUpdate merges a reloaded set of defaults into s.cfg and the
// pipe read-chunk size. It runs on the event loop goroutine, the same
// goroutine that reads readChunkBytes when starting a new stream reader,
// so the write here needs no separate synchronization.
func (s *Supervisor) applyConfigUpdate(upd configUpdate) {
	if upd.defaultKillMs > 0 {
		s.cfg.DefaultKillMs = upd.defaultKillMs
	}
	if upd.alarmMaxTimeS > 0 {
		s.cfg.AlarmMaxTime = time.Duration(upd.alarmMaxTimeS) * time.Second
	}
	if upd.readChunkBytes > 0 {
		readChunkBytes = upd.readChunkBytes
	}
}

func (s *Supervisor) buildSnapshot() []ChildSnapshot {
	recs := s.table.iter()
	out := make([]ChildSnapshot, len(recs))
	for i, r := range recs {
		out[i] = ChildSnapshot{
			Pid:       r.CmdPid,
			Cmd:       r.Cmd,
			Managed:   r.Managed,
			Sigterm:   r.Sigterm,
			Sigkilled: r.Sigkilled,
		}
	}
	return out
}

func (s *Supervisor) reply(t wire.Term) {
	if !s.pipeValid {
		return
	}
	if err := s.codec.WriteMessage(t); err != nil {
		s.pipeValid = false
	}
}

// teardown runs the supervisor-exit sequence: a hard alarm as last
// resort, SIGTERM to the whole process group, then repeated
// reap/escalate/sleep cycles until the Child Table is empty.
func (s *Supervisor) teardown() {
	unix.Alarm(uint(s.cfg.AlarmMaxTime / time.Second))
	_ = syscall.Kill(0, syscall.SIGTERM)

	deadline := time.Now().Add(s.cfg.TeardownDeadline)
	for _, rec := range s.table.iter() {
		if !rec.Sigkilled && !rec.Sigterm && rec.KillCmdPid == 0 {
			s.shut.requestStop(rec, time.Now())
		}
		if rec.Deadline.IsZero() || rec.Deadline.After(deadline) {
			rec.Deadline = deadline
		}
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for s.table.len() > 0 {
		select {
		case ex := <-s.sig.exited:
			s.handleExit(ex)
		case ev := <-s.output:
			s.handleOutput(ev)
		case <-ticker.C:
			now := time.Now()
			for _, rec := range s.table.iter() {
				s.shut.sweep(rec, now)
			}
			s.livenessSweep()
			for pid := range s.shut.transient {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
		}
	}
}
