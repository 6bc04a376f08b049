package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivenq/execport/wire"
)

func envelope(transId int64, body wire.Term) wire.Term {
	return wire.TupleOf(wire.Int(transId), body)
}

func TestDecodeRequestRun(t *testing.T) {
	msg := envelope(1, wire.TupleOf(wire.Atom("run"), wire.Str("echo hi"), wire.ListOf()))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdRun, cmd.Kind)
	assert.Equal(t, int64(1), cmd.TransId)
	assert.Equal(t, "echo hi", cmd.Cmd)
}

func TestDecodeRequestShell(t *testing.T) {
	msg := envelope(2, wire.TupleOf(wire.Atom("shell"), wire.Str("ls | wc -l"), wire.ListOf()))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdShell, cmd.Kind)
}

func TestDecodeRequestManage(t *testing.T) {
	msg := envelope(3, wire.TupleOf(wire.Atom("manage"), wire.Int(4242), wire.ListOf()))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdManage, cmd.Kind)
	assert.Equal(t, 4242, cmd.OsPid)
}

func TestDecodeRequestStop(t *testing.T) {
	msg := envelope(4, wire.TupleOf(wire.Atom("stop"), wire.Int(99)))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdStop, cmd.Kind)
	assert.Equal(t, 99, cmd.OsPid)
}

func TestDecodeRequestKill(t *testing.T) {
	msg := envelope(5, wire.TupleOf(wire.Atom("kill"), wire.Int(99), wire.Int(9)))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdKill, cmd.Kind)
	assert.Equal(t, 9, cmd.Signal)
}

func TestDecodeRequestList(t *testing.T) {
	msg := envelope(6, wire.TupleOf(wire.Atom("list")))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdList, cmd.Kind)
}

func TestDecodeRequestStdin(t *testing.T) {
	msg := envelope(7, wire.TupleOf(wire.Atom("stdin"), wire.Int(99), wire.Binary([]byte("hello\n"))))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdStdin, cmd.Kind)
	assert.Equal(t, []byte("hello\n"), cmd.Data)
}

func TestDecodeRequestShutdown(t *testing.T) {
	msg := envelope(8, wire.TupleOf(wire.Atom("shutdown")))
	cmd, err := DecodeRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, CmdShutdown, cmd.Kind)
}

func TestDecodeRequestUnknownCommand(t *testing.T) {
	msg := envelope(9, wire.TupleOf(wire.Atom("frobnicate")))
	_, err := DecodeRequest(msg)
	require.Error(t, err)
	assert.Equal(t, "Unknown command: frobnicate", err.Error())
}

func TestDecodeRequestMalformedEnvelope(t *testing.T) {
	_, err := DecodeRequest(wire.Atom("not-a-tuple"))
	assert.Equal(t, Badarg, err)
}

func TestDecodeRequestWrongArity(t *testing.T) {
	msg := envelope(10, wire.TupleOf(wire.Atom("stop"), wire.Int(1), wire.Int(2)))
	_, err := DecodeRequest(msg)
	assert.Equal(t, Badarg, err)
}
