package supervisor

import (
	"github.com/rivenq/execport/wire"
)

// CommandKind tags the decoded request variant.
type CommandKind int

const (
	CmdManage CommandKind = iota
	CmdRun
	CmdShell
	CmdStop
	CmdKill
	CmdList
	CmdStdin
	CmdShutdown
)

// Command is the internal representation of one decoded request.
type Command struct {
	Kind    CommandKind
	TransId int64

	OsPid   int
	Cmd     string
	Signal  int
	Data    []byte
	Options *Options
}

// DecodeRequest turns one {TransId, Body} envelope into a Command, applying
// option parsing/validation for commands that carry options. Malformed
// envelopes are reported as Badarg; unrecognized command atoms as
// "Unknown command: X".
func DecodeRequest(msg wire.Term) (Command, error) {
	envelope, err := msg.AsTuple()
	if err != nil || len(envelope) != 2 {
		return Command{}, Badarg
	}
	transId, err := envelope[0].AsInt()
	if err != nil {
		return Command{}, Badarg
	}
	body, err := envelope[1].AsTuple()
	if err != nil || len(body) == 0 {
		return Command{}, Badarg
	}
	name, ok := atomKey(body[0])
	if !ok {
		return Command{}, Badarg
	}

	cmd := Command{TransId: transId}

	switch name {
	case "manage":
		if len(body) != 3 {
			return Command{}, Badarg
		}
		pid, err := body[1].AsInt()
		if err != nil {
			return Command{}, Badarg
		}
		optList, err := body[2].AsList()
		if err != nil {
			return Command{}, Badarg
		}
		opt, err := parseAndValidate(optList)
		if err != nil {
			return Command{}, err
		}
		cmd.Kind = CmdManage
		cmd.OsPid = int(pid)
		cmd.Options = opt

	case "run", "shell":
		if len(body) != 3 {
			return Command{}, Badarg
		}
		cmdStr, err := body[1].AsString()
		if err != nil {
			return Command{}, Badarg
		}
		optList, err := body[2].AsList()
		if err != nil {
			return Command{}, Badarg
		}
		opt, err := parseAndValidate(optList)
		if err != nil {
			return Command{}, err
		}
		if name == "run" {
			cmd.Kind = CmdRun
		} else {
			cmd.Kind = CmdShell
		}
		cmd.Cmd = cmdStr
		cmd.Options = opt

	case "stop":
		if len(body) != 2 {
			return Command{}, Badarg
		}
		pid, err := body[1].AsInt()
		if err != nil {
			return Command{}, Badarg
		}
		cmd.Kind = CmdStop
		cmd.OsPid = int(pid)

	case "kill":
		if len(body) != 3 {
			return Command{}, Badarg
		}
		pid, err := body[1].AsInt()
		if err != nil {
			return Command{}, Badarg
		}
		sig, err := body[2].AsInt()
		if err != nil {
			return Command{}, Badarg
		}
		cmd.Kind = CmdKill
		cmd.OsPid = int(pid)
		cmd.Signal = int(sig)

	case "list":
		if len(body) != 1 {
			return Command{}, Badarg
		}
		cmd.Kind = CmdList

	case "stdin":
		if len(body) != 3 {
			return Command{}, Badarg
		}
		pid, err := body[1].AsInt()
		if err != nil {
			return Command{}, Badarg
		}
		data, err := body[2].AsBytes()
		if err != nil {
			return Command{}, Badarg
		}
		cmd.Kind = CmdStdin
		cmd.OsPid = int(pid)
		cmd.Data = data

	case "shutdown":
		if len(body) != 1 {
			return Command{}, Badarg
		}
		cmd.Kind = CmdShutdown

	default:
		return Command{}, unknownCommand(name)
	}

	return cmd, nil
}

func parseAndValidate(optList []wire.Term) (*Options, error) {
	opt, err := ParseOptions(optList)
	if err != nil {
		return nil, err
	}
	if err := ValidateOptions(opt); err != nil {
		return nil, err
	}
	if err := ResolveOptions(opt); err != nil {
		return nil, err
	}
	return opt, nil
}
