// Package supervisor implements the event loop, child lifecycle engine,
// signal-handling discipline and command/reply contract of a
// long-running OS process supervisor driven over a framed control
// channel.
package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rivenq/execport/wire"
)

// Config bundles the process-wide knobs the CLI surface exposes.
type Config struct {
	AlarmMaxTime    time.Duration // default 12s
	Superuser       bool          // restricts `kill` to tracked pids
	Debug           bool
	DebugLevel      int
	DefaultKillMs   int // default per-child kill_timeout when unset
	TeardownDeadline time.Duration // default 6s
	SweepInterval   time.Duration // default loop tick, so deadlines fire under silence
}

func (c Config) withDefaults() Config {
	if c.AlarmMaxTime == 0 {
		c.AlarmMaxTime = 12 * time.Second
	}
	if c.DefaultKillMs == 0 {
		c.DefaultKillMs = defaultKillTimeoutMs
	}
	if c.TeardownDeadline == 0 {
		c.TeardownDeadline = 6 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Second
	}
	return c
}

// ExitHook is called once per reaped child, after its exit notification has
// been written (or suppressed), so callers can maintain an audit ledger
// without the supervisor depending on any persistence layer itself.
type ExitHook func(pid int, cmd string, status int, managed bool)

// Supervisor bundles the process-wide state the Design Notes call out:
// the Child Table, the signal surface, dev/null, and the termination
// flags. Everything else in this package borrows from a *Supervisor.
type Supervisor struct {
	cfg Config

	codec   *wire.Codec
	table   *childTable
	shut    *shutdownEngine
	spawner *spawnEngine
	sig     *signalSurface
	devNull *os.File

	requests chan wire.Term
	readErr  chan error
	output   chan outputEvent

	terminated     bool
	terminatedCode int
	pipeValid      bool

	snapshotReq chan chan []ChildSnapshot
	killReq     chan killRequest
	configReq   chan configUpdate

	// tails mirrors each live record's output ring buffer under a
	// concurrency-safe map so admin/mcpintrospect can read it without
	// touching the loop-owned childTable from another goroutine.
	tails sync.Map // pid -> *outputTail

	ExitHook ExitHook

	log *slog.Logger
}

// New builds a Supervisor around codec, opening the shared /dev/null
// handle once at startup for every redirect that needs it.
func New(codec *wire.Codec, cfg Config, log *slog.Logger) (*Supervisor, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", os.DevNull, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:         cfg.withDefaults(),
		codec:       codec,
		table:       newChildTable(),
		shut:        newShutdownEngine(devNull),
		spawner:     newSpawnEngine(devNull),
		sig:         newSignalSurface(),
		devNull:     devNull,
		requests:    make(chan wire.Term, 32),
		readErr:     make(chan error, 1),
		output:      make(chan outputEvent, 256),
		pipeValid:   true,
		snapshotReq: make(chan chan []ChildSnapshot),
		killReq:     make(chan killRequest),
		configReq:   make(chan configUpdate),
		log:         log,
	}, nil
}

// configUpdate carries a reloaded set of process-wide defaults from
// config.Watcher into the event loop. Zero fields mean "unchanged" rather
// than "reset to zero", so a reload that only touches one TOML key never
// clobbers the others. done is closed once the loop goroutine has applied
// the update, giving UpdateDefaults a safe happens-before point instead of
// a caller that has to poll loop-owned state from another goroutine.
type configUpdate struct {
	defaultKillMs  int
	alarmMaxTimeS  int
	readChunkBytes int
	done           chan struct{}
}

// UpdateDefaults applies newly reloaded process-wide defaults and blocks
// until the event loop has applied them; if the loop does not take the
// update within 2 seconds it returns without applying it. It only affects
// children spawned
// after the call returns: already-running children keep the kill timeout
// and chunk size they started with, the same "new spawns only" contract
// config.Watcher documents.
func (s *Supervisor) UpdateDefaults(defaultKillMs, alarmMaxTimeS, readChunkBytes int) {
	upd := configUpdate{
		defaultKillMs:  defaultKillMs,
		alarmMaxTimeS:  alarmMaxTimeS,
		readChunkBytes: readChunkBytes,
		done:           make(chan struct{}),
	}
	select {
	case s.configReq <- upd:
		<-upd.done
	case <-time.After(2 * time.Second):
	}
}

// ChildSnapshot is a read-only view of one ChildRecord for the admin and
// mcpintrospect surfaces; it never drives supervision.
type ChildSnapshot struct {
	Pid       int
	Cmd       string
	Managed   bool
	Sigterm   bool
	Sigkilled bool
}

// Snapshot returns the current Child Table contents. Safe to call from any
// goroutine: it round-trips through the loop goroutine via a channel
// instead of reading the table directly, preserving the single-writer/
// single-reader discipline the rest of the package relies on.
func (s *Supervisor) Snapshot() []ChildSnapshot {
	req := make(chan []ChildSnapshot, 1)
	select {
	case s.snapshotReq <- req:
		return <-req
	case <-time.After(2 * time.Second):
		return nil
	}
}

// OutputTail returns the recent captured stdout+stderr bytes for pid, or
// nil if pid is not tracked. Safe to call concurrently: it never touches
// the loop-owned childTable, only the tails map and outputTail's own mutex.
func (s *Supervisor) OutputTail(pid int) []byte {
	v, ok := s.tails.Load(pid)
	if !ok {
		return nil
	}
	return v.(*outputTail).snapshot()
}

// killRequest is RequestKill's round trip onto the loop goroutine, the same
// channel-handoff pattern Snapshot uses to avoid touching childTable from
// another goroutine.
type killRequest struct {
	pid    int
	sig    int
	result chan error
}

// RequestKill sends signal sig to a tracked pid on behalf of the admin and
// mcpintrospect read-mostly surfaces. Unlike the wire protocol's `kill`
// command it only ever targets pids already in the Child Table,
// regardless of Config.Superuser.
func (s *Supervisor) RequestKill(pid int, sig int) error {
	req := killRequest{pid: pid, sig: sig, result: make(chan error, 1)}
	select {
	case s.killReq <- req:
		return <-req.result
	case <-time.After(2 * time.Second):
		return fmt.Errorf("supervisor: request timed out")
	}
}
