package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one entry of the ledger: a single reaped child.
type Record struct {
	Pid      int       `json:"pid"`
	Cmd      string    `json:"cmd"`
	Status   int       `json:"status"`
	Managed  bool      `json:"managed"`
	ExitedAt time.Time `json:"exited_at"`
}

// Ledger appends Records to a Store, keyed so List returns them in
// chronological order. It never reads back into the supervisor: entries
// exist purely for audit/inspection (Recent reads them back); no other
// package of this module reads the ledger.
type Ledger struct {
	store Store
}

// NewLedger wraps store as a ledger.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append records one reaped child. Safe to call from the supervisor's event
// loop goroutine directly via ExitHook: writes here are local file I/O,
// not network calls, so they do not stall dispatch for long.
func (l *Ledger) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%020d-%d", rec.ExitedAt.UnixNano(), rec.Pid)
	return l.store.Set(key, string(data))
}

// Recent returns the most recently appended records, newest first, at most
// limit of them (0 means no limit).
func (l *Ledger) Recent(limit int) ([]Record, error) {
	keys, err := l.store.List("", 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := make([]Record, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		raw, err := l.store.Get(keys[i])
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Hook adapts Ledger to supervisor.ExitHook's signature without this
// package importing supervisor.
func (l *Ledger) Hook() func(pid int, cmd string, status int, managed bool) {
	return func(pid int, cmd string, status int, managed bool) {
		_ = l.Append(Record{
			Pid:      pid,
			Cmd:      cmd,
			Status:   status,
			Managed:  managed,
			ExitedAt: time.Now(),
		})
	}
}
