package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDirAndAppliesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nmail")
	ctx, err := Load(dir, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ctx.Config.Inbox != "INBOX" {
		t.Errorf("expected default inbox, got %q", ctx.Config.Inbox)
	}
	if !ctx.Offline {
		t.Error("expected Offline to propagate")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected app dir to be created: %v", err)
	}
}

func TestInitTempDirClearsStaleContents(t *testing.T) {
	dir := t.TempDir()
	ctx, err := Load(dir, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	stale := filepath.Join(TempDirPath(dir), "stale.txt")
	if err := os.MkdirAll(TempDirPath(dir), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := ctx.InitTempDir(); err != nil {
		t.Fatalf("InitTempDir: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected stale temp file to be removed")
	}

	if err := ctx.CleanupTempDir(); err != nil {
		t.Fatalf("CleanupTempDir: %v", err)
	}
	if _, err := os.Stat(TempDirPath(dir)); !os.IsNotExist(err) {
		t.Error("expected temp dir removed on cleanup")
	}
}
