// Package world builds session content from files on disk: a single file, a
// directory tree selected by glob, and a watcher that notices when either
// changes.
package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/unicode"

	"rlm/internal/logging"
	"rlm/internal/store"
)

var (
	// ErrNotDirectory is returned by LoadDir for a non-directory root.
	ErrNotDirectory = errors.New("not a directory")
	// ErrNoFiles is returned by LoadDir when nothing matched.
	ErrNoFiles = errors.New("no files matched")
)

// DefaultPattern selects every file at any depth.
const DefaultPattern = "**/*"

var divider = strings.Repeat("=", 60)

// LoadOptions controls a directory load.
type LoadOptions struct {
	// MaxBytes stops loading once this many bytes of text are collected.
	// Zero means unlimited.
	MaxBytes int64
	// Pattern is matched against slash-separated paths relative to the root.
	Pattern string
	// Exclude names directories skipped at any depth.
	Exclude []string
	// Workers caps concurrent reads.
	Workers int
}

// LoadFile reads at most maxBytes of path (all of it when maxBytes <= 0).
// Invalid UTF-8 is replaced rather than rejected.
func LoadFile(path string, maxBytes int64) (*store.Context, error) {
	timer := logging.StartTimer(logging.CategoryWorld, "LoadFile")
	defer timer.Stop()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("context file does not exist: %s", path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("context path is a directory (use init-dir): %s", path)
	}

	text, err := readText(path, maxBytes)
	if err != nil {
		return nil, err
	}
	logging.World("Loaded %s (%d bytes)", path, len(text))
	return &store.Context{Path: path, LoadedAt: time.Now(), Content: text}, nil
}

func readText(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decode(data), nil
}

// decode returns data as a string, replacing invalid sequences with U+FFFD.
func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

// matcher reports whether a root-relative slash path is selected. A leading
// "**/" also matches files directly under the root.
type matcher func(rel string) bool

func compilePattern(pattern string) (matcher, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if !strings.HasPrefix(pattern, "**/") {
		return g.Match, nil
	}
	top, err := glob.Compile(strings.TrimPrefix(pattern, "**/"), '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return func(rel string) bool { return g.Match(rel) || top.Match(rel) }, nil
}

// Select walks root and returns the sorted relative paths of matching
// regular files outside excluded directories.
func Select(root, pattern string, exclude []string) ([]string, error) {
	match, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var rels []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			logging.WorldDebug("Skipping %s: %v", p, err)
			return nil
		}
		if d.IsDir() {
			if p != root && skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !match(rel) {
			return nil
		}
		if !d.Type().IsRegular() {
			// follow symlinks to files, ignore everything else
			info, err := os.Stat(p)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rels)
	return rels, nil
}

// LoadDir concatenates the selected files under root, each preceded by a
// divider header naming it, in sorted path order. Unreadable files are
// skipped. Loading stops after the file that brings the total to MaxBytes.
func LoadDir(ctx context.Context, root string, opts LoadOptions) (*store.Context, error) {
	timer := logging.StartTimer(logging.CategoryWorld, "LoadDir")
	defer timer.Stop()

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}

	rels, err := Select(root, pattern, opts.Exclude)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		parts []string
		files []string
		total int64
	)
	// Read a window of files concurrently, then append in order so the byte
	// limit cuts at the same file a sequential read would.
	for lo := 0; lo < len(rels); lo += workers {
		hi := lo + workers
		if hi > len(rels) {
			hi = len(rels)
		}
		texts, err := readWindow(ctx, root, rels[lo:hi], workers)
		if err != nil {
			return nil, err
		}

		done := false
		for k, text := range texts {
			if text == nil {
				continue
			}
			p := filepath.Join(root, filepath.FromSlash(rels[lo+k]))
			parts = append(parts, divider+"\n# FILE: "+p+"\n"+divider+"\n"+*text)
			files = append(files, p)
			total += int64(len(*text))
			if opts.MaxBytes > 0 && total >= opts.MaxBytes {
				done = true
				break
			}
		}
		if done {
			break
		}
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: pattern %q in %s", ErrNoFiles, pattern, root)
	}

	logging.World("Loaded %d files from %s (%d bytes)", len(files), root, total)
	return &store.Context{
		Path:     root,
		LoadedAt: time.Now(),
		Content:  strings.Join(parts, "\n\n"),
		Files:    files,
	}, nil
}

func readWindow(ctx context.Context, root string, rels []string, workers int) ([]*string, error) {
	texts := make([]*string, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, rel := range rels {
		k, rel := k, rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := readText(filepath.Join(root, filepath.FromSlash(rel)), 0)
			if err != nil {
				logging.WorldWarn("Skipping unreadable file %s: %v", rel, err)
				return nil
			}
			texts[k] = &text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

// Reload rebuilds a context from its recorded source.
func Reload(ctx context.Context, path string, src store.Source, workers int) (*store.Context, error) {
	switch src.Kind {
	case store.SourceDir:
		return LoadDir(ctx, path, LoadOptions{
			MaxBytes: src.MaxBytes,
			Pattern:  src.Pattern,
			Exclude:  src.Exclude,
			Workers:  workers,
		})
	case store.SourceFile, "":
		return LoadFile(path, src.MaxBytes)
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}
