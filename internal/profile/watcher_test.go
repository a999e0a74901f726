package profile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeProfilesFile(t *testing.T, path, selected string) {
	t.Helper()
	content := `{"profiles": [{"name": "` + selected + `", "selected": true}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "profiles.json")
	writeProfilesFile(t, path, "first")

	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var gotNew *Document

	w, err := NewWatcher(path, initial, func(old, new *Document) {
		mu.Lock()
		gotNew = new
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	go w.Run()

	writeProfilesFile(t, path, "second")

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reload callback")
		case <-time.After(50 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got := gotNew.Selected().Name; got != "second" {
		t.Errorf("reloaded selected profile = %q, want second", got)
	}
}

func TestWatcherForceReload(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "profiles.json")
	writeProfilesFile(t, path, "first")

	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var called bool

	w, err := NewWatcher(path, initial, func(old, new *Document) {
		mu.Lock()
		called = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	writeProfilesFile(t, path, "second")
	w.ForceReload()

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Error("ForceReload should trigger callback")
	}
}

func TestWatcherInvalidDocumentKeepsCurrent(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "profiles.json")
	writeProfilesFile(t, path, "first")

	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var called bool

	w, err := NewWatcher(path, initial, func(old, new *Document) {
		mu.Lock()
		called = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	w.ForceReload()

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("callback should not fire for an unparsable document")
	}
}

func TestWatcherNoChangeNoop(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "profiles.json")
	writeProfilesFile(t, path, "first")

	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var called bool

	w, err := NewWatcher(path, initial, func(old, new *Document) {
		mu.Lock()
		called = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.ForceReload()

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("callback should not fire when the document is unchanged")
	}
}
