// Package config loads the supervisor's optional TOML defaults file and,
// if asked, keeps watching it for edits so a running supervisor can pick up
// new defaults without a restart. It never overrides a value a CLI flag or
// a per-request Option already set explicitly — see cmd/execport, which
// layers flags over these defaults, and supervisor.Options, which layers
// per-spawn overrides over both.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// Config holds the process-wide defaults that would otherwise be
// hardcoded constants.
type Config struct {
	KillTimeoutMs  int `toml:"kill_timeout_ms"`
	AlarmMaxTimeS  int `toml:"alarm_max_time"`
	ReadChunkBytes int `toml:"read_chunk_bytes"`
}

const (
	defaultKillTimeoutMs  = 5000
	defaultAlarmMaxTimeS  = 12
	defaultReadChunkBytes = 4096
)

// Default returns the hardcoded fallback defaults, used when no config
// file is present or a loaded file leaves a field unset.
func Default() Config {
	return Config{
		KillTimeoutMs:  defaultKillTimeoutMs,
		AlarmMaxTimeS:  defaultAlarmMaxTimeS,
		ReadChunkBytes: defaultReadChunkBytes,
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "execport", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "execport", "config.toml")
}

// Load reads path (or DefaultPath if empty), applying Default()'s fallback
// for any field the file leaves zero. A missing file is not an error: it
// just yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var loaded Config
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if loaded.KillTimeoutMs != 0 {
		cfg.KillTimeoutMs = loaded.KillTimeoutMs
	}
	if loaded.AlarmMaxTimeS != 0 {
		cfg.AlarmMaxTimeS = loaded.AlarmMaxTimeS
	}
	if loaded.ReadChunkBytes != 0 {
		cfg.ReadChunkBytes = loaded.ReadChunkBytes
	}
	return cfg, nil
}

// Watcher re-reads path whenever it changes and delivers the newly loaded
// Config on Updates. The caller decides what to do with each update (the
// CLI entrypoint applies it to the running Supervisor's Config).
type Watcher struct {
	fsw     *fsnotify.Watcher
	path    string
	Updates chan Config
}

// NewWatcher starts watching path's containing directory (fsnotify watches
// directories more reliably than bare files across editors' atomic-rename
// save patterns) and returns a Watcher whose Updates channel receives a
// freshly Load-ed Config after every write/create event for path.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		path:    path,
		Updates: make(chan Config, 1),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			select {
			case w.Updates <- cfg:
			default:
				// Drop the stale pending update in favor of the fresh one.
				select {
				case <-w.Updates:
				default:
				}
				w.Updates <- cfg
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
