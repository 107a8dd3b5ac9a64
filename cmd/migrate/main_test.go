package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRunOfflineCreateAndValidate(t *testing.T) {
	dir := t.TempDir()

	if err := runOffline(options{cmd: "create", dir: dir, name: "add_tier_index"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one migration file, got %d (%v)", len(entries), err)
	}
	if filepath.Ext(entries[0].Name()) != ".sql" {
		t.Fatalf("unexpected file %s", entries[0].Name())
	}

	if err := runOffline(options{cmd: "validate", dir: dir}); err != nil {
		t.Fatalf("validate created migration: %v", err)
	}
	if err := runOffline(options{cmd: "validate", embedded: true}); err != nil {
		t.Fatalf("validate embedded: %v", err)
	}
}

func TestRunOfflineRejectsMissingName(t *testing.T) {
	if err := runOffline(options{cmd: "create", dir: t.TempDir()}); err == nil {
		t.Fatal("expected error without -name")
	}
}

func TestRunOfflineDefersDatabaseCommands(t *testing.T) {
	for _, cmd := range []string{"up", "down", "status", "version"} {
		if err := runOffline(options{cmd: cmd}); !errors.Is(err, errNeedsDatabase) {
			t.Fatalf("%s: expected errNeedsDatabase, got %v", cmd, err)
		}
	}
}
