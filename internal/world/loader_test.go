package world

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rlm/internal/store"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func section(path, text string) string {
	return divider + "\n# FILE: " + path + "\n" + divider + "\n" + text
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, err := LoadFile(path, 0)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if ctx.Content != "hello world" || ctx.Path != path || ctx.Files != nil {
		t.Errorf("LoadFile() = %+v", ctx)
	}
	if time.Since(ctx.LoadedAt) > time.Minute {
		t.Errorf("LoadedAt not set: %v", ctx.LoadedAt)
	}

	ctx, err = LoadFile(path, 5)
	if err != nil {
		t.Fatalf("LoadFile(max=5) error = %v", err)
	}
	if ctx.Content != "hello" {
		t.Errorf("LoadFile(max=5) content = %q, want %q", ctx.Content, "hello")
	}
}

func TestLoadFile_InvalidUTF8Replaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin.dat")
	if err := os.WriteFile(path, []byte{'a', 0xff, 'b'}, 0644); err != nil {
		t.Fatal(err)
	}
	ctx, err := LoadFile(path, 0)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if ctx.Content != "a�b" {
		t.Errorf("content = %q, want replacement char", ctx.Content)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFile(filepath.Join(dir, "missing.txt"), 0); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("missing file error = %v", err)
	}
	if _, err := LoadFile(dir, 0); err == nil || !strings.Contains(err.Error(), "init-dir") {
		t.Errorf("directory error = %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.txt":              "bravo",
		"a.txt":              "alpha",
		"sub/c.md":           "charlie",
		"node_modules/x.txt": "skipped",
		"sub/.git/HEAD":      "skipped",
		"sub/deep/d.md":      "delta",
	})

	ctx, err := LoadDir(context.Background(), root, LoadOptions{
		Exclude: []string{"node_modules", ".git"},
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	wantFiles := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "sub", "c.md"),
		filepath.Join(root, "sub", "deep", "d.md"),
	}
	if diff := cmp.Diff(wantFiles, ctx.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}

	want := strings.Join([]string{
		section(wantFiles[0], "alpha"),
		section(wantFiles[1], "bravo"),
		section(wantFiles[2], "charlie"),
		section(wantFiles[3], "delta"),
	}, "\n\n")
	if ctx.Content != want {
		t.Errorf("Content mismatch:\n%s", cmp.Diff(want, ctx.Content))
	}
	if ctx.Path != root {
		t.Errorf("Path = %q, want %q", ctx.Path, root)
	}
}

func TestLoadDir_Patterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"top.md":        "top",
		"notes.txt":     "notes",
		"sub/inner.md":  "inner",
		"sub/inner.txt": "skip",
	})

	tests := []struct {
		pattern string
		want    []string
	}{
		{"**/*.md", []string{"sub/inner.md", "top.md"}},
		{"*.txt", []string{"notes.txt"}},
		{"sub/*", []string{"sub/inner.md", "sub/inner.txt"}},
		{"", []string{"notes.txt", "sub/inner.md", "sub/inner.txt", "top.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := Select(root, tt.pattern, nil)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select(%q) mismatch (-want +got):\n%s", tt.pattern, diff)
			}
		})
	}
}

func TestLoadDir_MaxBytesStopsAfterFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"1.txt": "aaaa",
		"2.txt": "bbbb",
		"3.txt": "cccc",
	})

	ctx, err := LoadDir(context.Background(), root, LoadOptions{MaxBytes: 6, Workers: 2})
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(ctx.Files) != 2 {
		t.Errorf("loaded %d files, want 2: %v", len(ctx.Files), ctx.Files)
	}
	if strings.Contains(ctx.Content, "cccc") {
		t.Error("third file should not be loaded")
	}
}

func TestLoadDir_Errors(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})

	_, err := LoadDir(context.Background(), root, LoadOptions{Pattern: "**/*.go", Workers: 1})
	if !errors.Is(err, ErrNoFiles) {
		t.Errorf("error = %v, want ErrNoFiles", err)
	}

	_, err = LoadDir(context.Background(), filepath.Join(root, "a.txt"), LoadOptions{})
	if !errors.Is(err, ErrNotDirectory) {
		t.Errorf("error = %v, want ErrNotDirectory", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := LoadDir(cancelled, root, LoadOptions{Workers: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestReload(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "first", "b.md": "doc"})

	ctx, err := Reload(context.Background(), root, store.Source{Kind: store.SourceDir, Pattern: "*.md"}, 4)
	if err != nil {
		t.Fatalf("Reload(dir) error = %v", err)
	}
	if diff := cmp.Diff([]string{filepath.Join(root, "b.md")}, ctx.Files); diff != "" {
		t.Errorf("Files mismatch (-want +got):\n%s", diff)
	}

	file := filepath.Join(root, "a.txt")
	writeTree(t, root, map[string]string{"a.txt": "second"})
	ctx, err = Reload(context.Background(), file, store.Source{Kind: store.SourceFile}, 4)
	if err != nil {
		t.Fatalf("Reload(file) error = %v", err)
	}
	if ctx.Content != "second" {
		t.Errorf("Content = %q, want %q", ctx.Content, "second")
	}

	if _, err := Reload(context.Background(), file, store.Source{Kind: "socket"}, 1); err == nil {
		t.Error("expected error for unknown source kind")
	}
}
