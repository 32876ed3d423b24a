// Package accessors implements the read, search and extraction helpers that
// caller code uses to inspect a session's content.
//
// Every accessor reads the content at call time through the bound context
// getter, so a rewrite of Context.Content earlier in the same run is visible
// to later calls. Offsets are byte offsets into the UTF-8 content string.
package accessors

import (
	"errors"
	"fmt"

	"rlm/internal/logging"
	"rlm/internal/store"
)

// ErrInvalidArgument is returned when a caller-supplied parameter violates
// an accessor precondition. It is never silently corrected.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

const (
	DefaultSearchLimit   = 20
	DefaultSearchWindow  = 200
	DefaultFindLimit     = 100
	DefaultExtractLimit  = 50
	DefaultChunkSize     = 200000
	DefaultChunkPrefix   = "chunk"
	chunkFileNamePattern = "%s_%04d.txt"
)

// Accessors binds the helper set to one session's live context and buffers.
type Accessors struct {
	context func() *store.Context
	buffers *[]string
}

// New binds accessors to a context getter and a buffer slice. The getter is
// consulted on every call; buffers is appended to in place.
func New(context func() *store.Context, buffers *[]string) *Accessors {
	if buffers == nil {
		buffers = &[]string{}
	}
	return &Accessors{context: context, buffers: buffers}
}

// Bind is a convenience for callers that hold stable pointers.
func Bind(ctx **store.Context, buffers *[]string) *Accessors {
	return New(func() *store.Context { return *ctx }, buffers)
}

func (a *Accessors) content() string {
	if a.context == nil {
		return ""
	}
	ctx := a.context()
	if ctx == nil {
		return ""
	}
	return ctx.Content
}

func (a *Accessors) files() []string {
	if a.context == nil {
		return nil
	}
	if ctx := a.context(); ctx != nil {
		return ctx.Files
	}
	return nil
}

// Peek returns content[start:end] with slice-like tolerance: negative bounds
// count from the end and out-of-range bounds are clamped.
func (a *Accessors) Peek(start, end int) string {
	content := a.content()
	n := len(content)
	start = clampIndex(start, n)
	end = clampIndex(end, n)
	if start >= end {
		return ""
	}
	return content[start:end]
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			return 0
		}
	}
	if i > n {
		return n
	}
	return i
}

// AddBuffer appends the string form of text to the session buffers.
func (a *Accessors) AddBuffer(text interface{}) {
	var s string
	switch v := text.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}
	*a.buffers = append(*a.buffers, s)
	logging.AccessorsDebug("AddBuffer: %d chars, %d buffers", len(s), len(*a.buffers))
}

// Buffers returns the live buffer slice.
func (a *Accessors) Buffers() []string {
	return *a.buffers
}

// Flag selects regular expression behavior.
type Flag uint

const (
	// IgnoreCase matches letters case-insensitively.
	IgnoreCase Flag = 1 << iota
	// Multiline makes ^ and $ match at line boundaries.
	Multiline
	// DotAll lets . match newlines.
	DotAll
	// Backtrack switches to a backtracking engine supporting lookaround
	// and backreferences. Slower, and unbounded on pathological patterns.
	Backtrack
)

// Option adjusts a single accessor call.
type Option func(*options)

type options struct {
	limit  int
	window int
	flags  Flag
}

// Limit caps the number of results.
func Limit(n int) Option {
	return func(o *options) { o.limit = n }
}

// Window sets the snippet context size in bytes on each side of a match.
func Window(n int) Option {
	return func(o *options) { o.window = n }
}

// Flags sets regular expression flags.
func Flags(f Flag) Option {
	return func(o *options) { o.flags = f }
}

func buildOptions(limit int, opts []Option) (options, error) {
	o := options{limit: limit, window: DefaultSearchWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.limit < 1 {
		return o, invalidf("limit must be >= 1, got %d", o.limit)
	}
	if o.window < 0 {
		return o, invalidf("window must be >= 0, got %d", o.window)
	}
	return o, nil
}
