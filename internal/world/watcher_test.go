package world

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"rlm/internal/store"
)

func TestWatcher_FileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, store.SourceFile, WatchOptions{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func() error {
			changed <- struct{}{}
			return nil
		})
	}()

	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWatcher_Relevant(t *testing.T) {
	root := t.TempDir()
	w := &Watcher{
		root:   root,
		kind:   store.SourceDir,
		skip:   map[string]bool{"node_modules": true},
		ignore: []string{filepath.Join(root, ".state")},
	}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write", fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Write}, true},
		{"chmod only", fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Chmod}, false},
		{"excluded dir", fsnotify.Event{Name: filepath.Join(root, "node_modules", "x.js"), Op: fsnotify.Create}, false},
		{"ignored state", fsnotify.Event{Name: filepath.Join(root, ".state", "state.db"), Op: fsnotify.Write}, false},
		{"similar prefix", fsnotify.Event{Name: filepath.Join(root, ".stateful"), Op: fsnotify.Write}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.relevant(tt.ev); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}

	fileWatch := &Watcher{root: filepath.Join(root, "app.log"), kind: store.SourceFile}
	if fileWatch.relevant(fsnotify.Event{Name: filepath.Join(root, "other.log"), Op: fsnotify.Write}) {
		t.Error("sibling file should not be relevant")
	}
	if !fileWatch.relevant(fsnotify.Event{Name: filepath.Join(root, "app.log"), Op: fsnotify.Rename}) {
		t.Error("rename of watched file should be relevant")
	}
}
