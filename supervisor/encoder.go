package supervisor

import "github.com/rivenq/execport/wire"

// replyOk encodes the bare `ok` reply.
func replyOk(transId int64) wire.Term {
	return wire.TupleOf(wire.Int(transId), wire.Atom("ok"))
}

// replyOkPid encodes {ok, OsPid}.
func replyOkPid(transId int64, pid int) wire.Term {
	return wire.TupleOf(wire.Int(transId), wire.TupleOf(wire.Atom("ok"), wire.Int(int64(pid))))
}

// replyOkPids encodes {ok, [OsPid]}.
func replyOkPids(transId int64, pids []int) wire.Term {
	list := make([]wire.Term, len(pids))
	for i, p := range pids {
		list[i] = wire.Int(int64(p))
	}
	return wire.TupleOf(wire.Int(transId), wire.TupleOf(wire.Atom("ok"), wire.ListOf(list...)))
}

// replyError encodes {error, Reason}, rendering atom-shaped reasons as bare
// atoms and everything else as a string.
func replyError(transId int64, reason Reason) wire.Term {
	var inner wire.Term
	if reason.IsAtom() {
		inner = wire.Atom(reason.atom)
	} else {
		inner = wire.Str(reason.text)
	}
	return wire.TupleOf(wire.Int(transId), wire.TupleOf(wire.Atom("error"), inner))
}

// eventExitStatus encodes the unsolicited {0, {exit_status, OsPid, Status}}.
func eventExitStatus(pid int, status int) wire.Term {
	return wire.TupleOf(wire.Int(0),
		wire.TupleOf(wire.Atom("exit_status"), wire.Int(int64(pid)), wire.Int(int64(status))))
}

// eventOutput encodes the unsolicited {0, {stdout|stderr, OsPid, Bytes}}.
func eventOutput(stream string, pid int, data []byte) wire.Term {
	return wire.TupleOf(wire.Int(0),
		wire.TupleOf(wire.Atom(stream), wire.Int(int64(pid)), wire.Binary(data)))
}
