package supervisor

import (
	"os/user"
	"strconv"
	"strings"

	"github.com/rivenq/execport/wire"
)

// Options holds the parsed, validated, resolved form of a spawn/manage
// request's option list. Parsing, validation and resolution are kept as
// three separate passes: the original source mixes cd/kill/user handling
// through fallthrough, this does not.
type Options struct {
	Cd            string
	Env           []string // "K=V" pairs, options' keys win over the parent's
	KillCmd       string
	KillTimeoutMs int
	Group         string
	User          string
	Nice          *int

	Stdin  StreamSlot
	Stdout StreamSlot
	Stderr StreamSlot

	resolvedUID *int
	resolvedGID *int
}

const defaultKillTimeoutMs = 5000

// ParseOptions walks the wire option list, rejecting duplicate keys and
// unrecognized shapes as badarg. It does not validate cross-option
// invariants (self-loops, circularity, ranges) or resolve names — see
// ValidateOptions and ResolveOptions.
func ParseOptions(list []wire.Term) (*Options, error) {
	opt := &Options{
		KillTimeoutMs: defaultKillTimeoutMs,
		Stdin:         StreamSlot{Kind: RedirectErl},
		Stdout:        StreamSlot{Kind: RedirectErl},
		Stderr:        StreamSlot{Kind: RedirectErl},
	}
	seen := map[string]bool{}

	markSeen := func(key string) error {
		if seen[key] {
			return Badarg
		}
		seen[key] = true
		return nil
	}

	for _, item := range list {
		switch item.Kind {
		case wire.KindAtom:
			// Bare atom form: stdin | stdout | stderr == {stream, erl}.
			switch item.Atom {
			case "stdin":
				if err := markSeen("stdin"); err != nil {
					return nil, err
				}
				opt.Stdin = StreamSlot{Kind: RedirectErl}
			case "stdout":
				if err := markSeen("stdout"); err != nil {
					return nil, err
				}
				opt.Stdout = StreamSlot{Kind: RedirectErl}
			case "stderr":
				if err := markSeen("stderr"); err != nil {
					return nil, err
				}
				opt.Stderr = StreamSlot{Kind: RedirectErl}
			default:
				return nil, Badarg
			}
		case wire.KindTuple:
			if len(item.Tuple) < 2 {
				return nil, Badarg
			}
			key, ok := atomKey(item.Tuple[0])
			if !ok {
				return nil, Badarg
			}
			if err := markSeen(key); err != nil {
				return nil, err
			}
			if err := opt.applyTuple(key, item.Tuple); err != nil {
				return nil, err
			}
		default:
			return nil, Badarg
		}
	}
	return opt, nil
}

func atomKey(t wire.Term) (string, bool) {
	if t.Kind != wire.KindAtom {
		return "", false
	}
	return t.Atom, true
}

func (o *Options) applyTuple(key string, tup []wire.Term) error {
	switch key {
	case "cd":
		dir, err := tup[1].AsString()
		if err != nil {
			return Badarg
		}
		o.Cd = dir
	case "env":
		entries, err := tup[1].AsList()
		if err != nil {
			return Badarg
		}
		for i, e := range entries {
			kv, err := decodeEnvEntry(e)
			if err != nil {
				return errorf("invalid env argument #%d", i+1)
			}
			o.Env = append(o.Env, kv)
		}
	case "kill":
		cmd, err := tup[1].AsString()
		if err != nil {
			return Badarg
		}
		o.KillCmd = cmd
	case "kill_timeout":
		n, err := tup[1].AsInt()
		if err != nil {
			return Badarg
		}
		o.KillTimeoutMs = int(n) * 1000
	case "group":
		g, err := decodeGroupOrUser(tup[1])
		if err != nil {
			return Badarg
		}
		o.Group = g
	case "user":
		u, err := decodeGroupOrUser(tup[1])
		if err != nil {
			return Badarg
		}
		o.User = u
	case "nice":
		n, err := tup[1].AsInt()
		if err != nil {
			return Badarg
		}
		v := int(n)
		o.Nice = &v
	case "stdin":
		slot, err := decodeStreamOption(tup[1])
		if err != nil {
			return err
		}
		o.Stdin = slot
	case "stdout":
		slot, err := decodeStreamOption(tup[1])
		if err != nil {
			return err
		}
		o.Stdout = slot
	case "stderr":
		slot, err := decodeStreamOption(tup[1])
		if err != nil {
			return err
		}
		o.Stderr = slot
	default:
		return Badarg
	}
	return nil
}

func decodeEnvEntry(t wire.Term) (string, error) {
	switch t.Kind {
	case wire.KindString, wire.KindBinary:
		s, _ := t.AsString()
		if !strings.Contains(s, "=") {
			return "", Badarg
		}
		return s, nil
	case wire.KindTuple:
		if len(t.Tuple) != 2 {
			return "", Badarg
		}
		k, err := t.Tuple[0].AsString()
		if err != nil {
			return "", Badarg
		}
		v, err := t.Tuple[1].AsString()
		if err != nil {
			return "", Badarg
		}
		return k + "=" + v, nil
	default:
		return "", Badarg
	}
}

func decodeGroupOrUser(t wire.Term) (string, error) {
	switch t.Kind {
	case wire.KindString, wire.KindBinary:
		return t.AsString()
	case wire.KindInt:
		return strconv.FormatInt(t.Int, 10), nil
	default:
		return "", Badarg
	}
}

// decodeStreamOption decodes the Device grammar:
// close | null | stderr | stdout | "path" | {append, "path"}.
func decodeStreamOption(t wire.Term) (StreamSlot, error) {
	switch t.Kind {
	case wire.KindAtom:
		switch t.Atom {
		case "close":
			return StreamSlot{Kind: RedirectClose}, nil
		case "null":
			return StreamSlot{Kind: RedirectNull}, nil
		case "stdout":
			return StreamSlot{Kind: RedirectStdout}, nil
		case "stderr":
			return StreamSlot{Kind: RedirectStderr}, nil
		default:
			return StreamSlot{}, Badarg
		}
	case wire.KindString, wire.KindBinary:
		p, _ := t.AsString()
		return StreamSlot{Kind: RedirectFile, Path: p}, nil
	case wire.KindTuple:
		if len(t.Tuple) != 2 || !t.Tuple[0].IsAtom("append") {
			return StreamSlot{}, Badarg
		}
		p, err := t.Tuple[1].AsString()
		if err != nil {
			return StreamSlot{}, Badarg
		}
		return StreamSlot{Kind: RedirectFile, Path: p, Append: true}, nil
	default:
		return StreamSlot{}, Badarg
	}
}

// ValidateOptions enforces the stream-topology and range rules. A stdin
// redirected to stdout/stderr is rejected as badarg; self-reference,
// circular stdout/stderr redirection and an out-of-range nice are
// rejected with descriptive string reasons.
func ValidateOptions(o *Options) error {
	if o.Stdin.Kind == RedirectStdout || o.Stdin.Kind == RedirectStderr {
		return Badarg
	}
	if o.Stdout.Kind == RedirectStdout {
		return errorf("self-reference of stdout")
	}
	if o.Stderr.Kind == RedirectStderr {
		return errorf("self-reference of stderr")
	}
	if o.Stdout.Kind == RedirectStderr && o.Stderr.Kind == RedirectStdout {
		return errorf("circular reference of stdout and stderr")
	}
	if o.Nice != nil && (*o.Nice < -20 || *o.Nice > 20) {
		return errorf("nice option must be an integer between -20 and 20")
	}
	return nil
}

// ResolveOptions looks up group/user names, resolved at parse time and
// rejected as badarg when unknown.
func ResolveOptions(o *Options) error {
	if o.User != "" {
		u, err := user.Lookup(o.User)
		if err != nil {
			if _, numErr := strconv.Atoi(o.User); numErr == nil {
				u, err = user.LookupId(o.User)
			}
			if err != nil {
				return Badarg
			}
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return Badarg
		}
		o.resolvedUID = &uid
	}
	if o.Group != "" {
		g, err := user.LookupGroup(o.Group)
		if err != nil {
			if _, numErr := strconv.Atoi(o.Group); numErr == nil {
				g, err = user.LookupGroupId(o.Group)
			}
			if err != nil {
				return Badarg
			}
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return Badarg
		}
		o.resolvedGID = &gid
	}
	return nil
}
