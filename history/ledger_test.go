package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAppendAndRecent(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	l := NewLedger(store)
	base := time.Now()
	require.NoError(t, l.Append(Record{Pid: 1, Cmd: "echo a", Status: 0, ExitedAt: base}))
	require.NoError(t, l.Append(Record{Pid: 2, Cmd: "echo b", Status: 1, ExitedAt: base.Add(time.Second)}))

	recs, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].Pid, "Recent returns newest first")
	assert.Equal(t, 1, recs[1].Pid)
}

func TestLedgerRecentRespectsLimit(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	l := NewLedger(store)
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(Record{Pid: i, ExitedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	recs, err := l.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 4, recs[0].Pid)
	assert.Equal(t, 3, recs[1].Pid)
}

func TestLedgerHookAppends(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	l := NewLedger(store)
	hook := l.Hook()
	hook(42, "sleep 1", 0, true)

	recs, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 42, recs[0].Pid)
	assert.True(t, recs[0].Managed)
}
