package accessors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlm/internal/store"
)

func newAccessors(content string) (*Accessors, *store.Context, *[]string) {
	ctx := &store.Context{Path: "test.txt", Content: content}
	buffers := &[]string{}
	return New(func() *store.Context { return ctx }, buffers), ctx, buffers
}

func TestPeek(t *testing.T) {
	a, _, _ := newAccessors("0123456789")

	tests := []struct {
		start, end int
		want       string
	}{
		{0, 3, "012"},
		{7, 100, "789"},
		{-3, 10, "789"},
		{-100, 2, "01"},
		{5, 2, ""},
		{20, 30, ""},
		{0, -8, "01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Peek(tt.start, tt.end), "Peek(%d, %d)", tt.start, tt.end)
	}
}

func TestPeek_NilContext(t *testing.T) {
	a := New(func() *store.Context { return nil }, nil)
	assert.Equal(t, "", a.Peek(0, 10))
	assert.Equal(t, Stats{}, a.Stats())
}

func TestSearch_LineResolution(t *testing.T) {
	a, _, _ := newAccessors("a\nbb\nccc")

	matches, err := a.Search(`b+`)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, Span{Start: 2, End: 4}, matches[0].Span)
	assert.Equal(t, 2, matches[0].Line)

	matches, err = a.Search(`a`)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Line)

	matches, err = a.Search(`c`, Window(1))
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, 3, m.Line)
	}
	assert.Equal(t, "\ncc", matches[0].Snippet)
}

func TestLineIndex(t *testing.T) {
	idx := newLineIndex("a\nbb\nccc")
	want := lineIndex{0, 2, 5}
	if diff := cmp.Diff(want, idx); diff != "" {
		t.Errorf("newLineIndex mismatch (-want +got):\n%s", diff)
	}
	for off, line := range map[int]int{0: 1, 1: 1, 2: 2, 3: 2, 4: 2, 5: 3, 8: 3} {
		assert.Equal(t, line, idx.lineAt(off), "offset %d", off)
	}
}

func TestSearch_Snippet(t *testing.T) {
	content := strings.Repeat("x", 50) + "NEEDLE" + strings.Repeat("y", 50)
	a, _, _ := newAccessors(content)

	matches, err := a.Search("NEEDLE", Window(5))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "xxxxxNEEDLEyyyyy", matches[0].Snippet)
	assert.Equal(t, "NEEDLE", matches[0].Text)

	matches, err = a.Search("NEEDLE")
	require.NoError(t, err)
	assert.Equal(t, content, matches[0].Snippet)
}

func TestSearch_SnippetRuneBoundary(t *testing.T) {
	a, _, _ := newAccessors("héllo wörld")
	matches, err := a.Search("r", Window(1))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "örl", matches[0].Snippet)
}

func TestSearch_CountAgreement(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "line %d ERROR something\n", i)
	}
	a, _, _ := newAccessors(b.String())

	count, err := a.SearchCount(`ERROR`)
	require.NoError(t, err)
	assert.Equal(t, 30, count)

	all, err := a.Search(`ERROR`, Limit(count+10))
	require.NoError(t, err)
	assert.Len(t, all, count)

	capped, err := a.Search(`ERROR`)
	require.NoError(t, err)
	assert.Len(t, capped, DefaultSearchLimit)
}

func TestSearch_Flags(t *testing.T) {
	a, _, _ := newAccessors("Alpha\nbeta\nALPHA")

	n, err := a.SearchCount(`alpha`)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = a.SearchCount(`alpha`, IgnoreCase)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = a.SearchCount(`^beta$`, Multiline)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.SearchCount(`Alpha.beta`, DotAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearch_Backtrack(t *testing.T) {
	a, _, _ := newAccessors("héllo foo1 foobar foo2\nfoo3")

	_, err := a.Search(`foo(?!bar)\d`)
	assert.ErrorIs(t, err, ErrInvalidArgument, "RE2 has no lookahead")

	matches, err := a.Search(`foo(?!bar)\d`, Flags(Backtrack))
	require.NoError(t, err)
	got := make([]string, len(matches))
	for i, m := range matches {
		got[i] = m.Text
		assert.Equal(t, m.Text, a.Peek(m.Span.Start, m.Span.End), "byte offsets")
	}
	if diff := cmp.Diff([]string{"foo1", "foo2", "foo3"}, got); diff != "" {
		t.Errorf("Backtrack matches mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, matches[2].Line)

	n, err := a.SearchCount(`(o)\1`, Backtrack)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSearch_InvalidArguments(t *testing.T) {
	a, _, _ := newAccessors("abc")

	_, err := a.Search(`(`)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = a.Search(`a`, Limit(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = a.Search(`a`, Window(-1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = a.SearchCount(`[`)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = a.FindLines(`a`, Limit(-1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSearch_ObservesContentRewrite(t *testing.T) {
	a, ctx, _ := newAccessors("old")
	n, _ := a.SearchCount("new")
	assert.Equal(t, 0, n)

	ctx.Content = "new new"
	n, _ = a.SearchCount("new")
	assert.Equal(t, 2, n)
}

func TestFindLines(t *testing.T) {
	a, _, _ := newAccessors("GET /a 200\r\nPOST /b 500\nGET /c 500\n")

	got, err := a.FindLines(`500`)
	require.NoError(t, err)
	want := []LineMatch{
		{Number: 2, Text: "POST /b 500"},
		{Number: 3, Text: "GET /c 500"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindLines mismatch (-want +got):\n%s", diff)
	}

	got, err = a.FindLines(`GET`, Limit(1))
	require.NoError(t, err)
	assert.Equal(t, []LineMatch{{Number: 1, Text: "GET /a 200"}}, got)

	got, err = a.FindLines(`nothing`)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func checkCoverage(t *testing.T, n, size, overlap int) {
	t.Helper()
	spans, err := chunkSpans(n, size, overlap)
	require.NoError(t, err)
	if n == 0 {
		assert.Empty(t, spans)
		return
	}
	require.NotEmpty(t, spans)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, n, spans[len(spans)-1].End)
	for i, sp := range spans {
		assert.LessOrEqual(t, sp.Len(), size)
		assert.Greater(t, sp.Len(), 0)
		if i > 0 {
			prev := spans[i-1]
			assert.Equal(t, overlap, prev.End-sp.Start, "overlap between %d and %d", i-1, i)
			assert.Equal(t, size, prev.Len(), "only the final span may be short")
		}
	}
}

func TestChunkSpans_Coverage(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 99, 100, 1000} {
		for _, so := range [][2]int{{1, 0}, {10, 0}, {10, 1}, {10, 9}, {7, 3}, {100, 50}} {
			t.Run(fmt.Sprintf("n=%d/size=%d/overlap=%d", n, so[0], so[1]), func(t *testing.T) {
				checkCoverage(t, n, so[0], so[1])
			})
		}
	}
}

func TestChunkSpans_NoTrailingSpan(t *testing.T) {
	a, _, _ := newAccessors(strings.Repeat("a", 10))
	spans, err := a.ChunkSpans(5, 0)
	require.NoError(t, err)
	assert.Equal(t, []Span{{0, 5}, {5, 10}}, spans)

	spans, err = a.ChunkSpans(6, 2)
	require.NoError(t, err)
	assert.Equal(t, []Span{{0, 6}, {4, 10}}, spans)
}

func TestChunkSpans_InvalidArguments(t *testing.T) {
	a, _, _ := newAccessors("content")
	for _, tc := range [][2]int{{0, 0}, {-1, 0}, {10, -1}, {10, 10}, {10, 11}} {
		_, err := a.ChunkSpans(tc[0], tc[1])
		assert.ErrorIs(t, err, ErrInvalidArgument, "size=%d overlap=%d", tc[0], tc[1])
	}
}

func TestWriteChunks(t *testing.T) {
	a, _, _ := newAccessors("abcdefghij")
	dir := filepath.Join(t.TempDir(), "out", "chunks")

	paths, err := a.WriteChunks(dir, 4, 1, "")
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "chunk_0000.txt"), paths[0])
	assert.Equal(t, filepath.Join(dir, "chunk_0002.txt"), paths[2])

	var parts []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		parts = append(parts, string(data))
	}
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, parts)

	paths, err = a.WriteChunks(dir, 100, 0, "part")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "part_0000.txt")}, paths)

	_, err = a.WriteChunks(dir, 0, 0, "x")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAddBuffer(t *testing.T) {
	a, _, buffers := newAccessors("")
	a.AddBuffer("finding")
	a.AddBuffer(42)
	a.AddBuffer([]string{"x", "y"})
	a.AddBuffer([]byte("raw"))
	assert.Equal(t, []string{"finding", "42", "[x y]", "raw"}, *buffers)
	assert.Equal(t, *buffers, a.Buffers())
}

func TestExtractJSONObjects(t *testing.T) {
	a, _, _ := newAccessors("{\"a\":1}\nnot json\n{\"b\":2}")
	got, err := a.ExtractJSONObjects()
	require.NoError(t, err)
	want := []map[string]interface{}{{"a": 1.0}, {"b": 2.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractJSONObjects mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractJSONObjects_SkipsAndLimits(t *testing.T) {
	content := strings.Join([]string{
		`  {"level":"info","n":1}  `,
		`{"broken":`,
		`{"level":"warn","tags":["x"]} trailing`,
		`[1,2,3]`,
		`{"level":"error","nested":{"k":true}}`,
	}, "\n")
	a, _, _ := newAccessors(content)

	got, err := a.ExtractJSONObjects()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, map[string]interface{}{"k": true}, got[1]["nested"])

	got, err = a.ExtractJSONObjects(Limit(1))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestExtractYAMLDocuments(t *testing.T) {
	content := "---\na: 1\n---   \n\n---\nb: [x, y]\n--- not a separator\nc: 3\n---\n"
	a, _, _ := newAccessors(content)

	got, err := a.ExtractYAMLDocuments()
	require.NoError(t, err)
	want := []string{"a: 1", "b: [x, y]\n--- not a separator\nc: 3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractYAMLDocuments mismatch (-want +got):\n%s", diff)
	}

	got, err = a.ExtractYAMLDocuments(Limit(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a: 1"}, got)
}

func TestParseYAMLDocuments(t *testing.T) {
	a, _, _ := newAccessors("name: web\nreplicas: 3\n---\n: : bad: [\n---\n- one\n- two\n")

	got, err := a.ParseYAMLDocuments()
	require.NoError(t, err)
	want := []interface{}{
		map[string]interface{}{"name": "web", "replicas": 3},
		[]interface{}{"one", "two"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseYAMLDocuments mismatch (-want +got):\n%s", diff)
	}
}

func TestTimeRange(t *testing.T) {
	tests := []struct {
		name    string
		content string
		first   string
		last    string
		format  string
	}{
		{
			name:    "iso",
			content: "2024-01-02T03:04:05 start\nmiddle\n2024-01-02 09:00:00 end",
			first:   "2024-01-02T03:04:05", last: "2024-01-02 09:00:00", format: "iso",
		},
		{
			name:    "apache only",
			content: `1.2.3.4 - - [10/Oct/2000:13:55:36 -0700] "GET /"` + "\n" + `1.2.3.4 - - [11/Oct/2000:01:00:00 -0700] "GET /x"`,
			first:   "10/Oct/2000:13:55:36", last: "11/Oct/2000:01:00:00", format: "apache",
		},
		{
			name:    "syslog",
			content: "Mar  1 10:00:00 host a\nMar 12 11:30:59 host b",
			first:   "Mar  1 10:00:00", last: "Mar 12 11:30:59", format: "syslog",
		},
		{
			name:    "first format wins",
			content: "Mar  1 10:00:00 host\n2024-05-06 07:08:09 later",
			first:   "2024-05-06 07:08:09", last: "2024-05-06 07:08:09", format: "iso",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newAccessors(tt.content)
			tr := a.TimeRange()
			require.NotNil(t, tr.First)
			require.NotNil(t, tr.Last)
			assert.Equal(t, tt.first, *tr.First)
			assert.Equal(t, tt.last, *tr.Last)
			assert.Equal(t, tt.format, tr.Format)
		})
	}
}

func TestTimeRange_NoMatch(t *testing.T) {
	a, _, _ := newAccessors("no timestamps here")
	tr := a.TimeRange()
	assert.Nil(t, tr.First)
	assert.Nil(t, tr.Last)
}

func TestStats(t *testing.T) {
	a, ctx, _ := newAccessors("ok\n\nERROR one\nwarning two\nFatal three\n")

	want := Stats{
		TotalChars:    38,
		TotalLines:    5,
		NonEmptyLines: 4,
		AvgLineLength: 7,
		ErrorCount:    2,
		WarningCount:  1,
	}
	if diff := cmp.Diff(want, a.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}

	ctx.Content = "héllo"
	ctx.Files = []string{"a", "b"}
	st := a.Stats()
	assert.Equal(t, 5, st.TotalChars)
	assert.Equal(t, 1, st.TotalLines)
	assert.Equal(t, 2, st.FilesLoaded)
	assert.Zero(t, st.ErrorCount)
	assert.Zero(t, st.WarningCount)
}

func TestStats_SeverityCountsEncodedTogether(t *testing.T) {
	data, err := json.Marshal(Stats{TotalChars: 3, TotalLines: 1, ErrorCount: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_chars":3,"total_lines":1,"non_empty_lines":0,"avg_line_length":0,"error_count":2,"warning_count":0}`, string(data))

	data, err = json.Marshal(Stats{TotalChars: 3, WarningCount: 1, FilesLoaded: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_chars":3,"total_lines":0,"non_empty_lines":0,"avg_line_length":0,"files_loaded":2,"error_count":0,"warning_count":1}`, string(data))

	data, err = json.Marshal(Stats{TotalChars: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_chars":3,"total_lines":0,"non_empty_lines":0,"avg_line_length":0}`, string(data))
}

func TestBind(t *testing.T) {
	ctx := &store.Context{Content: "first"}
	buffers := []string{}
	a := Bind(&ctx, &buffers)
	assert.Equal(t, "first", a.Peek(0, 100))

	ctx = &store.Context{Content: "second"}
	assert.Equal(t, "second", a.Peek(0, 100))

	a.AddBuffer("x")
	assert.Equal(t, []string{"x"}, buffers)
}
