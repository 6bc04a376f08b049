package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivenq/execport/supervisor"
	"github.com/rivenq/execport/wire"
)

func newTestSetup(t *testing.T) (*Server, *supervisor.Supervisor) {
	t.Helper()
	if os.Getenv("SHELL") == "" {
		os.Setenv("SHELL", "/bin/sh")
	}
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	codec := wire.NewCodec(serverConn)
	sup, err := supervisor.New(codec, supervisor.Config{}, nil)
	require.NoError(t, err)
	go sup.Run()

	client := wire.NewCodec(clientConn)
	require.NoError(t, client.WriteMessage(wire.TupleOf(wire.Int(1),
		wire.TupleOf(wire.Atom("run"), wire.Str("sleep 5"), wire.ListOf()))))
	reply, err := client.ReadMessage()
	require.NoError(t, err)
	_ = reply

	return NewServer("127.0.0.1:0", sup), sup
}

func TestHandleListProcesses(t *testing.T) {
	s, _ := newTestSetup(t)
	time.Sleep(50 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	rec := httptest.NewRecorder()
	s.handleListProcesses(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap []supervisor.ChildSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap, 1)
}

func TestHandleGetLogsUnknownPid(t *testing.T) {
	s, _ := newTestSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/processes/999999/logs", nil)
	req.SetPathValue("pid", "999999")
	rec := httptest.NewRecorder()
	s.handleGetLogs(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
