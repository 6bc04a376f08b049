// Command execport is the control-channel entrypoint: it wires a wire.Codec
// over stdio (or fds 3/4 under -n), builds a supervisor.Supervisor around
// it, and runs the event loop until the peer shuts it down or a terminating
// signal arrives.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rivenq/execport/admin"
	"github.com/rivenq/execport/config"
	"github.com/rivenq/execport/history"
	"github.com/rivenq/execport/mcpintrospect"
	"github.com/rivenq/execport/supervisor"
	"github.com/rivenq/execport/wire"
)

const (
	exitOK            = 0
	exitHelp          = 1
	exitUsage         = 2
	exitStartup       = 3
	exitPrivilegeDrop = 4
)

var (
	flagAltFds    bool
	flagAlarmTime int
	flagDebug     string
	flagUser      string
	flagConfig    string
	flagHistory   string
	flagAdminAddr string
	flagMCPAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "execport",
	Short: "Supervise OS child processes on behalf of a peer over a framed control channel",
	Long: `execport spawns, monitors, and terminates OS child processes on behalf of
a controlling peer speaking a small framed binary protocol over stdio.

It is modeled on the Erlang erlexec port program: the peer issues run/shell/
manage/stop/kill/list/stdin/shutdown requests and receives ok/error replies
plus unsolicited stdout/stderr/exit_status events.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSupervisor,
}

func init() {
	rootCmd.Flags().BoolVarP(&flagAltFds, "n", "n", false, "use fds 3/4 for the control channel instead of stdio")
	rootCmd.Flags().IntVar(&flagAlarmTime, "alarm", 12, "seconds to wait for children to exit during teardown before giving up")
	rootCmd.Flags().StringVar(&flagDebug, "debug", "", "enable debug logging; an optional level (--debug=LEVEL) is accepted, and every level enables the same debug output")
	rootCmd.Flags().Lookup("debug").NoOptDefVal = "on"
	rootCmd.Flags().StringVar(&flagUser, "user", "", "drop root privileges to this user before accepting requests")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to an optional TOML defaults file (default ~/.config/execport/config.toml)")
	rootCmd.Flags().StringVar(&flagHistory, "history-dir", "", "directory for the append-only exit ledger (disabled if unset)")
	rootCmd.Flags().StringVar(&flagAdminAddr, "admin-addr", "", "bind address for the read-only HTTP admin dashboard (disabled if unset)")
	rootCmd.Flags().StringVar(&flagMCPAddr, "mcp-addr", "", "bind address for the read-only MCP introspection server (disabled if unset)")
}

func main() {
	// pflag reads a single-dash word as a run of one-letter flags, so the
	// single-dash long forms (-alarm, -debug, -user) are rewritten to their
	// double-dash spelling before cobra parses the command line.
	for i, arg := range os.Args[1:] {
		name, _, _ := strings.Cut(arg, "=")
		switch name {
		case "-alarm", "-debug", "-user":
			os.Args[i+1] = "-" + arg
		}
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	// cobra's builtin -h/--help handler prints usage and returns a nil
	// error, which would otherwise fall through to a 0 exit status.
	if help, err := rootCmd.Flags().GetBool("help"); err == nil && help {
		os.Exit(exitHelp)
	}
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if flagDebug != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if os.Geteuid() == 0 && flagUser == "" {
		logger.Error("refusing to run as root without -user")
		os.Exit(exitPrivilegeDrop)
	}
	if flagUser != "" {
		if err := dropPrivileges(flagUser); err != nil {
			logger.Error("privilege drop failed", "error", err)
			os.Exit(exitPrivilegeDrop)
		}
	}

	cfgPath := flagConfig
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	defaults, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(exitStartup)
	}

	var rw wireReadWriter
	if flagAltFds {
		rw = wireReadWriter{r: os.NewFile(3, "in"), w: os.NewFile(4, "out")}
	} else {
		rw = wireReadWriter{r: os.Stdin, w: os.Stdout}
	}
	codec := wire.NewCodec(rw)

	alarmFromFlag := cmd.Flags().Changed("alarm")
	alarmS := flagAlarmTime
	if !alarmFromFlag {
		alarmS = defaults.AlarmMaxTimeS
	}
	cfg := supervisor.Config{
		AlarmMaxTime:  time.Duration(alarmS) * time.Second,
		Superuser:     flagUser != "",
		Debug:         flagDebug != "",
		DefaultKillMs: defaults.KillTimeoutMs,
	}

	sup, err := supervisor.New(codec, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(exitStartup)
	}

	if watcher, err := config.NewWatcher(cfgPath); err != nil {
		logger.Debug("config hot-reload disabled", "path", cfgPath, "error", err)
	} else {
		go func() {
			for upd := range watcher.Updates {
				reloadAlarmS := upd.AlarmMaxTimeS
				if alarmFromFlag {
					reloadAlarmS = 0 // an explicit -alarm flag stays in force
				}
				sup.UpdateDefaults(upd.KillTimeoutMs, reloadAlarmS, upd.ReadChunkBytes)
				logger.Info("applied reloaded config defaults",
					"kill_timeout_ms", upd.KillTimeoutMs,
					"alarm_max_time", upd.AlarmMaxTimeS,
					"read_chunk_bytes", upd.ReadChunkBytes)
			}
		}()
	}

	if flagHistory != "" {
		store, err := history.NewDirStore(flagHistory)
		if err != nil {
			logger.Error("opening history dir", "error", err)
			os.Exit(exitStartup)
		}
		ledger := history.NewLedger(store)
		sup.ExitHook = ledger.Hook()
	}

	if flagAdminAddr != "" {
		srv := admin.NewServer(flagAdminAddr, sup)
		go func() {
			if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
				logger.Error("admin server stopped", "error", err)
			}
		}()
	}

	if flagMCPAddr != "" {
		go func() {
			if err := mcpintrospect.ListenAndServe(flagMCPAddr, sup); err != nil {
				logger.Error("mcpintrospect server stopped", "error", err)
			}
		}()
	}

	code := sup.Run()
	os.Exit(code)
	return nil
}

// wireReadWriter adapts a pair of *os.File into the single io.ReadWriter
// wire.NewCodec expects; stdio (and the -n alt-fd pair) are already one
// logical duplex channel even though Go hands them back as two *os.File.
type wireReadWriter struct {
	r *os.File
	w *os.File
}

func (rw wireReadWriter) Read(p []byte) (int, error)  { return rw.r.Read(p) }
func (rw wireReadWriter) Write(p []byte) (int, error) { return rw.w.Write(p) }

func dropPrivileges(name string) error {
	u, err := user.Lookup(name)
	if err != nil {
		if _, numErr := strconv.Atoi(name); numErr == nil {
			u, err = user.LookupId(name)
		}
		if err != nil {
			return fmt.Errorf("unknown user %q: %w", name, err)
		}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	if err := setgid(gid); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := setuid(uid); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}
	return nil
}
