package accessors

import (
	"fmt"
	"os"
	"path/filepath"

	"rlm/internal/logging"
)

// ChunkSpans partitions [0, len(content)) into spans of size bytes, each
// starting size-overlap bytes after the previous one. The last span is
// clamped to the end of content and no span follows it.
func (a *Accessors) ChunkSpans(size, overlap int) ([]Span, error) {
	return chunkSpans(len(a.content()), size, overlap)
}

func chunkSpans(n, size, overlap int) ([]Span, error) {
	if size <= 0 {
		return nil, invalidf("size must be > 0, got %d", size)
	}
	if overlap < 0 {
		return nil, invalidf("overlap must be >= 0, got %d", overlap)
	}
	if overlap >= size {
		return nil, invalidf("overlap must be < size, got overlap=%d size=%d", overlap, size)
	}

	spans := []Span{}
	step := size - overlap
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, Span{Start: start, End: end})
		if end == n {
			break
		}
	}
	return spans, nil
}

// WriteChunks writes each chunk to outDir/<prefix>_NNNN.txt and returns the
// paths in order. An empty prefix means "chunk".
func (a *Accessors) WriteChunks(outDir string, size, overlap int, prefix string) ([]string, error) {
	content := a.content()
	spans, err := chunkSpans(len(content), size, overlap)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultChunkPrefix
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	paths := make([]string, 0, len(spans))
	for i, sp := range spans {
		p := filepath.Join(outDir, fmt.Sprintf(chunkFileNamePattern, prefix, i))
		if err := os.WriteFile(p, []byte(content[sp.Start:sp.End]), 0644); err != nil {
			return paths, fmt.Errorf("failed to write chunk %d: %w", i, err)
		}
		paths = append(paths, p)
	}
	logging.AccessorsDebug("WriteChunks: %d files in %s", len(paths), outDir)
	return paths, nil
}
