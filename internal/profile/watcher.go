package profile

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the profiles document for changes and invokes a callback
// with the old and new documents. It watches the parent directory to handle
// atomic saves (write-to-temp + rename).
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(old, new *Document)

	mu      sync.Mutex
	current *Document
}

func NewWatcher(path string, initial *Document, onReload func(old, new *Document)) (*Watcher, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		current:  initial,
	}, nil
}

func (w *Watcher) Run() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			evPath, err := filepath.Abs(event.Name)
			if err != nil || evPath != w.path {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				w.reload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("profiles watcher error", "error", err)
		}
	}
}

// ForceReload re-reads the document immediately, skipping the debounce.
func (w *Watcher) ForceReload() {
	w.reload()
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) reload() {
	doc, err := Load(w.path)
	if err != nil {
		slog.Error("profiles reload failed, keeping current rules", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	old := w.current
	if reflect.DeepEqual(old, doc) {
		w.mu.Unlock()
		slog.Debug("profiles file changed on disk but content is identical")
		return
	}
	w.current = doc
	w.mu.Unlock()

	slog.Info("profiles reloaded", "profiles", len(doc.Profiles), "selected", doc.Selected().Name)

	if w.onReload != nil {
		w.onReload(old, doc)
	}
}
