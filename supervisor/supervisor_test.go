package supervisor

import (
	"net"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivenq/execport/wire"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *wire.Codec) {
	t.Helper()
	if os.Getenv("SHELL") == "" {
		os.Setenv("SHELL", "/bin/sh")
	}
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	codec := wire.NewCodec(serverConn)
	sup, err := New(codec, Config{TeardownDeadline: 2 * time.Second, SweepInterval: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	return sup, wire.NewCodec(clientConn)
}

func TestSupervisorRunEchoAndExit(t *testing.T) {
	sup, client := newTestSupervisor(t)

	done := make(chan int, 1)
	go func() { done <- sup.Run() }()

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(1),
		wire.TupleOf(wire.Atom("run"), wire.Str("echo hello"), wire.ListOf()))))

	reply, err := client.ReadMessage()
	require.NoError(t, err)
	tup, err := reply.AsTuple()
	require.NoError(t, err)
	assert.Equal(t, int64(1), tup[0].Int)
	okTup, err := tup[1].AsTuple()
	require.NoError(t, err)
	assert.True(t, okTup[0].IsAtom("ok"))
	pid, err := okTup[1].AsInt()
	require.NoError(t, err)
	assert.Greater(t, pid, int64(0))

	sawOutput := false
	sawExit := false
	for i := 0; i < 4 && !sawExit; i++ {
		msg, err := client.ReadMessage()
		require.NoError(t, err)
		env, err := msg.AsTuple()
		require.NoError(t, err)
		body, err := env[1].AsTuple()
		require.NoError(t, err)
		switch {
		case body[0].IsAtom("stdout"):
			sawOutput = true
			data, _ := body[2].AsBytes()
			assert.Contains(t, string(data), "hello")
		case body[0].IsAtom("exit_status"):
			sawExit = true
		}
	}
	assert.True(t, sawOutput)
	assert.True(t, sawExit)

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(2), wire.TupleOf(wire.Atom("shutdown")))))

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit after shutdown")
	}
}

func TestSupervisorListAndKill(t *testing.T) {
	sup, client := newTestSupervisor(t)
	go sup.Run()

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(1),
		wire.TupleOf(wire.Atom("run"), wire.Str("sleep 30"), wire.ListOf()))))
	reply, err := client.ReadMessage()
	require.NoError(t, err)
	tup, _ := reply.AsTuple()
	okTup, _ := tup[1].AsTuple()
	pid, _ := okTup[1].AsInt()

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(2), wire.TupleOf(wire.Atom("list")))))
	listReply, err := client.ReadMessage()
	require.NoError(t, err)
	listTup, _ := listReply.AsTuple()
	listOk, _ := listTup[1].AsTuple()
	pids, err := listOk[1].AsList()
	require.NoError(t, err)
	require.Len(t, pids, 1)
	assert.Equal(t, pid, pids[0].Int)

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(3),
		wire.TupleOf(wire.Atom("kill"), wire.Int(pid), wire.Int(9)))))
	killReply, err := client.ReadMessage()
	require.NoError(t, err)
	killTup, err := killReply.AsTuple()
	require.NoError(t, err)
	assert.True(t, killTup[1].IsAtom("ok"))

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(4), wire.TupleOf(wire.Atom("shutdown")))))
}

// TestSupervisorDetectsManagedChildExit attaches via `manage` to a process
// started outside the supervisor's spawn path and checks that its exit is
// reported as an exit_status event. The test binary itself started the
// process, so either the Wait4 reaper or the liveness sweep may be the path
// that notices the exit.
func TestSupervisorDetectsManagedChildExit(t *testing.T) {
	sup, client := newTestSupervisor(t)
	go sup.Run()

	external := exec.Command("sh", "-c", "sleep 0.2")
	require.NoError(t, external.Start())
	pid := external.Process.Pid
	t.Cleanup(func() { _ = external.Process.Kill() })

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(1),
		wire.TupleOf(wire.Atom("manage"), wire.Int(int64(pid)), wire.ListOf()))))
	reply, err := client.ReadMessage()
	require.NoError(t, err)
	tup, err := reply.AsTuple()
	require.NoError(t, err)
	okTup, err := tup[1].AsTuple()
	require.NoError(t, err)
	require.True(t, okTup[0].IsAtom("ok"))

	seenExit := 0
	for i := 0; i < 10 && seenExit == 0; i++ {
		msg, err := client.ReadMessage()
		require.NoError(t, err)
		env, err := msg.AsTuple()
		require.NoError(t, err)
		body, err := env[1].AsTuple()
		require.NoError(t, err)
		if body[0].IsAtom("exit_status") {
			seenExit++
		}
	}
	assert.Equal(t, 1, seenExit)

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(2), wire.TupleOf(wire.Atom("shutdown")))))
}

func TestUpdateDefaultsAppliesOnLoop(t *testing.T) {
	sup, client := newTestSupervisor(t)
	go sup.Run()

	original := readChunkBytes
	t.Cleanup(func() { readChunkBytes = original })

	sup.UpdateDefaults(9000, 20, 8192)

	assert.Equal(t, 9000, sup.cfg.DefaultKillMs)
	assert.Equal(t, 20*time.Second, sup.cfg.AlarmMaxTime)
	assert.Equal(t, 8192, readChunkBytes)

	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(1), wire.TupleOf(wire.Atom("shutdown")))))
}
