package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// spawnResult carries everything the loop needs to install a new
// ChildRecord and start its pipe goroutines after a successful spawn.
type spawnResult struct {
	pid        int
	stdinFile  *os.File // nil unless Stdin redirect is ERL
	stdoutFile *os.File // nil unless Stdout redirect is ERL
	stderrFile *os.File // nil unless Stderr redirect is ERL
	niceWarning string
}

// spawnEngine builds the redirections, execs the child through the shell
// named by $SHELL, applies credentials/nice after fork, and hands the
// surviving parent-side fds back to the caller.
type spawnEngine struct {
	devNull *os.File
}

func newSpawnEngine(devNull *os.File) *spawnEngine {
	return &spawnEngine{devNull: devNull}
}

// spawn runs cmdline through `$SHELL -c cmdline`, applying opt. cmdline is
// empty for a `manage` attach, which never calls spawn.
func (e *spawnEngine) spawn(cmdline string, opt *Options) (spawnResult, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		return spawnResult{}, couldNotStart("SHELL is not set")
	}

	cmd := exec.Command(shell, "-c", cmdline)
	cmd.Dir = opt.Cd
	cmd.Env = mergeEnv(os.Environ(), opt.Env)

	var res spawnResult
	var closers []*os.File
	defer func() {
		for _, f := range closers {
			f.Close()
		}
	}()

	stdinChild, stdinParent, err := e.prepareStream(opt.Stdin, stdinDirection)
	if err != nil {
		return spawnResult{}, err
	}
	if stdinChild != nil {
		cmd.Stdin = stdinChild
		closers = e.trackCloser(closers, stdinChild)
	}
	res.stdinFile = stdinParent

	stdoutChild, stdoutParent, err := e.prepareStream(opt.Stdout, stdoutDirection)
	if err != nil {
		return spawnResult{}, err
	}
	if stdoutChild != nil {
		cmd.Stdout = stdoutChild
		closers = e.trackCloser(closers, stdoutChild)
	}
	res.stdoutFile = stdoutParent

	if opt.Stderr.Kind == RedirectStdout {
		cmd.Stderr = cmd.Stdout
	} else {
		stderrChild, stderrParent, err := e.prepareStream(opt.Stderr, stderrDirection)
		if err != nil {
			return spawnResult{}, err
		}
		if stderrChild != nil {
			cmd.Stderr = stderrChild
			closers = e.trackCloser(closers, stderrChild)
		}
		res.stderrFile = stderrParent
	}
	if opt.Stdout.Kind == RedirectStderr {
		cmd.Stdout = cmd.Stderr
	}

	attr, err := credentialAttr(opt)
	if err != nil {
		return spawnResult{}, err
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		return spawnResult{}, couldNotStart(err.Error())
	}
	res.pid = cmd.Process.Pid

	for _, f := range []*os.File{res.stdinFile, res.stdoutFile, res.stderrFile} {
		if f != nil {
			unix.SetNonblock(int(f.Fd()), true)
		}
	}

	if opt.Nice != nil {
		if err := unix.Setpriority(unix.PRIO_PROCESS, res.pid, *opt.Nice); err != nil {
			res.niceWarning = fmt.Sprintf("cannot set priority of pid %d to %d: %v", res.pid, *opt.Nice, err)
		}
	}

	// cmd itself is allowed to be released without Wait(): the event loop
	// reaps via the SIGCHLD-driven wait4 path, not through *exec.Cmd.
	cmd.Process.Release()

	// os/exec never closes caller-supplied Stdin/Stdout/Stderr files after
	// Start(): the child has its own dup'd copy of each fd now, so the
	// parent must close its child-side ends itself, or the matching parent
	// read end (res.stdoutFile/res.stderrFile) never sees EOF when the
	// child exits.
	for _, f := range closers {
		f.Close()
	}
	closers = nil
	return res, nil
}

// trackCloser adds f to the parent's owned-fd close list unless f is the
// shared /dev/null handle, which is reused by every spawn and by
// shutdownEngine's kill helper, so it must outlive any single spawn call.
func (e *spawnEngine) trackCloser(closers []*os.File, f *os.File) []*os.File {
	if f == e.devNull {
		return closers
	}
	return append(closers, f)
}

type direction int

const (
	stdinDirection direction = iota
	stdoutDirection
	stderrDirection
)

// prepareStream returns (childEnd, parentEnd) for slot according to its
// RedirectKind. parentEnd is non-nil only for RedirectErl, where the loop
// needs a handle to forward bytes to/from the peer.
func (e *spawnEngine) prepareStream(slot StreamSlot, dir direction) (childEnd, parentEnd *os.File, err error) {
	switch slot.Kind {
	case RedirectNone, RedirectErl:
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, couldNotStart(err.Error())
		}
		if dir == stdinDirection {
			return r, w, nil
		}
		return w, r, nil

	case RedirectNull:
		return e.devNull, nil, nil

	case RedirectClose:
		// Give the child an endpoint whose peer is already closed, so
		// reads return EOF and writes return EPIPE immediately — distinct
		// from RedirectNull's "accept silently" semantics.
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, couldNotStart(err.Error())
		}
		if dir == stdinDirection {
			w.Close()
			return r, nil, nil
		}
		r.Close()
		return w, nil, nil

	case RedirectFile:
		flags := os.O_RDWR | os.O_CREATE
		if slot.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(slot.Path, flags, 0644)
		if err != nil {
			return nil, nil, errorf("badarg: cannot open %s: %v", slot.Path, err)
		}
		return f, nil, nil

	case RedirectStdout, RedirectStderr:
		// Resolved by the caller via cross-assignment of cmd.Stdout/Stderr.
		return nil, nil, nil

	default:
		return nil, nil, Badarg
	}
}

func mergeEnv(parent []string, overrides []string) []string {
	idx := make(map[string]int, len(parent))
	out := append([]string(nil), parent...)
	for i, kv := range out {
		if k, _, ok := strings.Cut(kv, "="); ok {
			idx[k] = i
		}
	}
	for _, kv := range overrides {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if i, exists := idx[k]; exists {
			out[i] = kv
		} else {
			idx[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}

// credentialAttr never sets Setpgid: children stay in the supervisor's
// process group so teardown's kill(0, SIGTERM) reaches all of them in
// one call.
func credentialAttr(opt *Options) (*syscall.SysProcAttr, error) {
	attr := &syscall.SysProcAttr{}
	if opt.resolvedUID != nil || opt.resolvedGID != nil {
		cred := &syscall.Credential{}
		if opt.resolvedUID != nil {
			cred.Uid = uint32(*opt.resolvedUID)
		}
		if opt.resolvedGID != nil {
			cred.Gid = uint32(*opt.resolvedGID)
		}
		attr.Credential = cred
	}
	return attr, nil
}
