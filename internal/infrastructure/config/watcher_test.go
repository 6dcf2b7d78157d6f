package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

const watcherTableV1 = `
modes:
  - name: max
    models: ["gpt-*"]
    reasoning_effort: high
`

const watcherTableV2 = `
modes:
  - name: max
    models: ["gpt-*"]
    reasoning_effort: high
  - name: low
    models: ["*"]
    reasoning_effort: low
`

func TestModeTableWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.yaml")
	if err := os.WriteFile(path, []byte(watcherTableV1), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewModeTableWatcher(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModeTableWatcher: %v", err)
	}
	defer w.Close()

	if _, ok := w.Table().Match("max", "gpt-4"); !ok {
		t.Error("initial table missing max mode")
	}
	if _, ok := w.Table().Match("low", "gpt-4"); ok {
		t.Error("low mode should not exist yet")
	}
}

func TestModeTableWatcherMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	w, err := NewModeTableWatcher(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModeTableWatcher: %v", err)
	}
	defer w.Close()

	if names := w.Table().Names(); len(names) != 0 {
		t.Errorf("expected empty table, got %v", names)
	}
}

func TestModeTableWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.yaml")
	if err := os.WriteFile(path, []byte(watcherTableV1), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewModeTableWatcher(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModeTableWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(watcherTableV2), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := w.Table().Match("low", "claude-3"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("low mode never appeared after file update")
}

func TestModeTableWatcherKeepsTableOnBadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.yaml")
	if err := os.WriteFile(path, []byte(watcherTableV1), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewModeTableWatcher(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModeTableWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("modes: ["), 0644); err != nil {
		t.Fatal(err)
	}

	// The broken write must not wipe the previous table.
	time.Sleep(200 * time.Millisecond)
	if _, ok := w.Table().Match("max", "gpt-4"); !ok {
		t.Error("previous table lost after bad reload")
	}
}
