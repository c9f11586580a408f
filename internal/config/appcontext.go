package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// AppContext carries the resolved application directory, the parsed
// main.conf, the raw ui.conf key=value map, a logger, and the resolved
// html-convert command. cmd/nmail builds it at startup and reads values
// from it to configure each subsystem; the subsystem constructors take
// their own config values, not the AppContext. Nothing here is a
// package-level global.
type AppContext struct {
	Dir            string
	Config         Config
	UIConfig       map[string]string
	Log            zerolog.Logger
	HtmlConvertCmd string
	Offline        bool
}

const (
	mainConfName = "main.conf"
	uiConfName   = "ui.conf"
	logFileName  = "log.txt"
	tempDirName  = "temp"
	lockFileName = "lock"
)

// DefaultDir returns $HOME/.nmail.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".nmail"), nil
}

// MainConfPath, UIConfPath, LogPath, TempDirPath, and LockPath return the
// well-known files/directories under dir (spec §6).
func MainConfPath(dir string) string { return filepath.Join(dir, mainConfName) }
func UIConfPath(dir string) string   { return filepath.Join(dir, uiConfName) }
func LogPath(dir string) string      { return filepath.Join(dir, logFileName) }
func TempDirPath(dir string) string  { return filepath.Join(dir, tempDirName) }
func LockPath(dir string) string     { return filepath.Join(dir, lockFileName) }

// Load assembles an AppContext for dir: creates dir if missing, loads
// main.conf over the documented defaults, loads ui.conf as a flat map,
// and resolves the html-convert command. It does not initialize logging
// or acquire the directory lock — the caller sequences those.
func Load(dir string, offline bool) (*AppContext, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create app directory: %w", err)
	}

	cfg, err := LoadMainConf(MainConfPath(dir), Defaults())
	if err != nil {
		return nil, fmt.Errorf("load main.conf: %w", err)
	}

	ui, err := parseKV(UIConfPath(dir))
	if err != nil {
		return nil, fmt.Errorf("load ui.conf: %w", err)
	}

	return &AppContext{
		Dir:            dir,
		Config:         cfg,
		UIConfig:       ui,
		HtmlConvertCmd: ResolveHtmlConvertCmd(cfg),
		Offline:        offline,
	}, nil
}

// InitTempDir removes any stale temp directory and recreates it empty,
// per spec §6's "temp/ ephemeral, removed on start and exit".
func (a *AppContext) InitTempDir() error {
	path := TempDirPath(a.Dir)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("clear temp dir: %w", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	return nil
}

// CleanupTempDir removes the temp directory on exit.
func (a *AppContext) CleanupTempDir() error {
	return os.RemoveAll(TempDirPath(a.Dir))
}
