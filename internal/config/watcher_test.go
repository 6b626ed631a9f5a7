package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAMLv1 = `
server:
  log_level: info
embeddings:
  name: ollama
`

const watcherYAMLv2 = `
server:
  log_level: debug
embeddings:
  name: ollama
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// Force a distinct mtime; some filesystems have coarse resolution.
	bump := time.Now().Add(time.Second)
	if err := os.Chtimes(path, bump, bump); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agora.yaml")
	writeConfig(t, path, watcherYAMLv1)

	var (
		mu      sync.Mutex
		changed *Config
	)
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		changed = new
		mu.Unlock()
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().Server.LogLevel != LogInfo {
		t.Fatalf("initial log level = %q", w.Current().Server.LogLevel)
	}

	writeConfig(t, path, watcherYAMLv2)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := changed
		mu.Unlock()
		if got != nil {
			if got.Server.LogLevel != LogDebug {
				t.Errorf("reloaded log level = %q, want debug", got.Server.LogLevel)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher never reported the change")
}

func TestWatcher_KeepsOldConfigOnInvalidUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agora.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server:\n  log_level: bogus\nembeddings:\n  name: ollama\n")

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("current log level = %q, want the pre-update value", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
