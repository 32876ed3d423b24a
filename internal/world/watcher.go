package world

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"rlm/internal/logging"
	"rlm/internal/store"
)

// DefaultDebounce collapses an editor's save burst into one change.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reports changes to a context source.
type Watcher struct {
	fw       *fsnotify.Watcher
	root     string
	kind     store.SourceKind
	skip     map[string]bool
	ignore   []string
	debounce time.Duration
}

// WatchOptions configures NewWatcher.
type WatchOptions struct {
	// Exclude names directories not watched in a directory source.
	Exclude []string
	// Ignore lists paths whose events are dropped, such as the state
	// directory when it lives under the watched tree.
	Ignore   []string
	Debounce time.Duration
}

// NewWatcher watches path. A file source watches the parent directory so
// rename-on-save editors are seen; a directory source watches every
// non-excluded directory beneath it.
func NewWatcher(path string, kind store.SourceKind, opts WatchOptions) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		fw:       fw,
		root:     abs,
		kind:     kind,
		skip:     make(map[string]bool, len(opts.Exclude)),
		debounce: opts.Debounce,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	for _, name := range opts.Exclude {
		w.skip[name] = true
	}
	for _, p := range opts.Ignore {
		if a, err := filepath.Abs(p); err == nil {
			w.ignore = append(w.ignore, a)
		}
	}

	if kind == store.SourceDir {
		err = w.addTree(abs)
	} else {
		err = fw.Add(filepath.Dir(abs))
	}
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	logging.World("Watching %s (%s)", abs, kind)
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.skip[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fw.Add(p); err != nil {
			logging.WorldWarn("Cannot watch %s: %v", p, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	for _, p := range w.ignore {
		if name == p || strings.HasPrefix(name, p+string(filepath.Separator)) {
			return false
		}
	}
	if w.kind != store.SourceDir {
		return name == w.root
	}
	rel, err := filepath.Rel(w.root, name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.skip[part] {
			return false
		}
	}
	return true
}

// Run calls onChange once per burst of relevant events until ctx is done.
// An onChange error is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, onChange func() error) error {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			logging.WorldDebug("Event %s", ev)
			if w.kind == store.SourceDir && ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						logging.WorldWarn("Cannot watch new directory %s: %v", ev.Name, err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			logging.WorldWarn("Watch error: %v", err)

		case <-timerC:
			timerC = nil
			if err := onChange(); err != nil {
				logging.WorldWarn("Refresh failed: %v", err)
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
