package accessors

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"rlm/internal/logging"
)

// Span is a half-open [Start, End) byte range into the content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns End - Start.
func (s Span) Len() int { return s.End - s.Start }

// Match is one Search result.
type Match struct {
	Text    string `json:"match"`
	Span    Span   `json:"span"`
	Line    int    `json:"line_number"`
	Snippet string `json:"snippet"`
}

// LineMatch is one FindLines result: the whole physical line.
type LineMatch struct {
	Number int    `json:"line_number"`
	Text   string `json:"content"`
}

// matcher hides the difference between RE2 and the backtracking engine.
type matcher interface {
	find(s string, n int) ([]Span, error)
	match(s string) (bool, error)
}

func compile(pattern string, flags Flag) (matcher, error) {
	if flags&Backtrack != 0 {
		var opts regexp2.RegexOptions
		if flags&IgnoreCase != 0 {
			opts |= regexp2.IgnoreCase
		}
		if flags&Multiline != 0 {
			opts |= regexp2.Multiline
		}
		if flags&DotAll != 0 {
			opts |= regexp2.Singleline
		}
		re, err := regexp2.Compile(pattern, opts)
		if err != nil {
			return nil, invalidf("bad pattern %q: %v", pattern, err)
		}
		return backtrackMatcher{re}, nil
	}

	var prefix string
	if flags&IgnoreCase != 0 {
		prefix += "i"
	}
	if flags&Multiline != 0 {
		prefix += "m"
	}
	if flags&DotAll != 0 {
		prefix += "s"
	}
	expr := pattern
	if prefix != "" {
		expr = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, invalidf("bad pattern %q: %v", pattern, err)
	}
	return re2Matcher{re}, nil
}

type re2Matcher struct{ re *regexp.Regexp }

func (m re2Matcher) find(s string, n int) ([]Span, error) {
	locs := m.re.FindAllStringIndex(s, n)
	spans := make([]Span, len(locs))
	for i, loc := range locs {
		spans[i] = Span{Start: loc[0], End: loc[1]}
	}
	return spans, nil
}

func (m re2Matcher) match(s string) (bool, error) {
	return m.re.MatchString(s), nil
}

type backtrackMatcher struct{ re *regexp2.Regexp }

// find converts regexp2's rune indices back to byte offsets with a cursor
// that only moves forward, since matches arrive in order.
func (m backtrackMatcher) find(s string, n int) ([]Span, error) {
	var spans []Span
	cur := runeCursor{s: s}
	match, err := m.re.FindStringMatch(s)
	for match != nil && err == nil {
		if n >= 0 && len(spans) >= n {
			break
		}
		start := cur.byteAt(match.Index)
		end := cur.byteAt(match.Index + match.Length)
		spans = append(spans, Span{Start: start, End: end})
		match, err = m.re.FindNextMatch(match)
	}
	if err != nil {
		return spans, err
	}
	return spans, nil
}

func (m backtrackMatcher) match(s string) (bool, error) {
	return m.re.MatchString(s)
}

type runeCursor struct {
	s     string
	runes int
	bytes int
}

func (c *runeCursor) byteAt(runeIndex int) int {
	for c.runes < runeIndex && c.bytes < len(c.s) {
		_, size := utf8.DecodeRuneInString(c.s[c.bytes:])
		c.bytes += size
		c.runes++
	}
	return c.bytes
}

// lineIndex holds the byte offset at which each line starts.
type lineIndex []int

func newLineIndex(s string) lineIndex {
	starts := lineIndex{0}
	for off := 0; ; {
		i := strings.IndexByte(s[off:], '\n')
		if i < 0 {
			break
		}
		off += i + 1
		starts = append(starts, off)
	}
	return starts
}

// lineAt returns the 1-indexed line containing byte offset off.
func (l lineIndex) lineAt(off int) int {
	return sort.Search(len(l), func(i int) bool { return l[i] > off })
}

// Search returns up to Limit (default 20) matches of pattern in left to
// right order, each with its line number and a snippet extending Window
// (default 200) bytes on each side.
func (a *Accessors) Search(pattern string, opts ...Option) ([]Match, error) {
	o, err := buildOptions(DefaultSearchLimit, opts)
	if err != nil {
		return nil, err
	}
	m, err := compile(pattern, o.flags)
	if err != nil {
		return nil, err
	}

	content := a.content()
	spans, err := m.find(content, o.limit)
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(spans))
	if len(spans) == 0 {
		return out, nil
	}
	lines := newLineIndex(content)
	for _, sp := range spans {
		out = append(out, Match{
			Text:    content[sp.Start:sp.End],
			Span:    sp,
			Line:    lines.lineAt(sp.Start),
			Snippet: snippet(content, sp, o.window),
		})
	}
	logging.AccessorsDebug("Search %q: %d matches", pattern, len(out))
	return out, nil
}

// snippet widens sp by window bytes each side, then onto rune boundaries.
func snippet(content string, sp Span, window int) string {
	start := sp.Start - window
	if start < 0 {
		start = 0
	}
	end := sp.End + window
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return content[start:end]
}

// SearchCount returns the number of non-overlapping matches of pattern.
func (a *Accessors) SearchCount(pattern string, flags ...Flag) (int, error) {
	m, err := compile(pattern, joinFlags(flags))
	if err != nil {
		return 0, err
	}
	spans, err := m.find(a.content(), -1)
	if err != nil {
		return 0, err
	}
	return len(spans), nil
}

func joinFlags(flags []Flag) Flag {
	var f Flag
	for _, x := range flags {
		f |= x
	}
	return f
}

// FindLines returns whole lines containing a match of pattern, in document
// order, stopping after Limit (default 100) lines.
func (a *Accessors) FindLines(pattern string, opts ...Option) ([]LineMatch, error) {
	o, err := buildOptions(DefaultFindLimit, opts)
	if err != nil {
		return nil, err
	}
	m, err := compile(pattern, o.flags)
	if err != nil {
		return nil, err
	}

	out := []LineMatch{}
	for i, line := range splitLines(a.content()) {
		ok, err := m.match(line)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, LineMatch{Number: i + 1, Text: line})
		if len(out) >= o.limit {
			break
		}
	}
	return out, nil
}

// splitLines splits on "\n", strips a trailing "\r" from each line and does
// not report an empty line after a final newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
