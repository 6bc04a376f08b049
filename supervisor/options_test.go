package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivenq/execport/wire"
)

func TestParseOptionsDefaults(t *testing.T) {
	opt, err := ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, RedirectErl, opt.Stdin.Kind)
	assert.Equal(t, RedirectErl, opt.Stdout.Kind)
	assert.Equal(t, RedirectErl, opt.Stderr.Kind)
	assert.Equal(t, defaultKillTimeoutMs, opt.KillTimeoutMs)
}

func TestParseOptionsBareAtoms(t *testing.T) {
	opt, err := ParseOptions([]wire.Term{wire.Atom("stdout"), wire.Atom("stderr")})
	require.NoError(t, err)
	assert.Equal(t, RedirectErl, opt.Stdout.Kind)
	assert.Equal(t, RedirectErl, opt.Stderr.Kind)
}

func TestParseOptionsDuplicateKeyIsBadarg(t *testing.T) {
	_, err := ParseOptions([]wire.Term{
		wire.TupleOf(wire.Atom("cd"), wire.Str("/tmp")),
		wire.TupleOf(wire.Atom("cd"), wire.Str("/var")),
	})
	assert.Equal(t, Badarg, err)
}

func TestParseOptionsCdEnvKillTimeout(t *testing.T) {
	opt, err := ParseOptions([]wire.Term{
		wire.TupleOf(wire.Atom("cd"), wire.Str("/tmp")),
		wire.TupleOf(wire.Atom("env"), wire.ListOf(wire.Str("A=1"), wire.TupleOf(wire.Str("B"), wire.Str("2")))),
		wire.TupleOf(wire.Atom("kill_timeout"), wire.Int(3)),
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp", opt.Cd)
	assert.Equal(t, []string{"A=1", "B=2"}, opt.Env)
	assert.Equal(t, 3000, opt.KillTimeoutMs)
}

func TestParseOptionsStreamDevices(t *testing.T) {
	opt, err := ParseOptions([]wire.Term{
		wire.TupleOf(wire.Atom("stdout"), wire.TupleOf(wire.Atom("append"), wire.Str("/tmp/out.log"))),
		wire.TupleOf(wire.Atom("stderr"), wire.Atom("null")),
	})
	require.NoError(t, err)
	assert.Equal(t, RedirectFile, opt.Stdout.Kind)
	assert.True(t, opt.Stdout.Append)
	assert.Equal(t, "/tmp/out.log", opt.Stdout.Path)
	assert.Equal(t, RedirectNull, opt.Stderr.Kind)
}

func TestValidateOptionsRejectsStdinCrossref(t *testing.T) {
	opt := &Options{Stdin: StreamSlot{Kind: RedirectStdout}}
	assert.Equal(t, Badarg, ValidateOptions(opt))
}

func TestValidateOptionsRejectsSelfReference(t *testing.T) {
	opt := &Options{Stdout: StreamSlot{Kind: RedirectStdout}}
	assert.Error(t, ValidateOptions(opt))
}

func TestValidateOptionsRejectsCircularReference(t *testing.T) {
	opt := &Options{
		Stdout: StreamSlot{Kind: RedirectStderr},
		Stderr: StreamSlot{Kind: RedirectStdout},
	}
	assert.Error(t, ValidateOptions(opt))
}

func TestValidateOptionsRejectsNiceOutOfRange(t *testing.T) {
	n := 21
	opt := &Options{Nice: &n}
	assert.Error(t, ValidateOptions(opt))
}

func TestValidateOptionsAcceptsCrossAssignment(t *testing.T) {
	opt := &Options{
		Stdout: StreamSlot{Kind: RedirectErl},
		Stderr: StreamSlot{Kind: RedirectStdout},
	}
	assert.NoError(t, ValidateOptions(opt))
}

func TestResolveOptionsNumericUser(t *testing.T) {
	opt := &Options{User: "0"}
	err := ResolveOptions(opt)
	require.NoError(t, err)
	require.NotNil(t, opt.resolvedUID)
	assert.Equal(t, 0, *opt.resolvedUID)
}

func TestResolveOptionsUnknownUserIsBadarg(t *testing.T) {
	opt := &Options{User: "no-such-user-xyz"}
	assert.Equal(t, Badarg, ResolveOptions(opt))
}
