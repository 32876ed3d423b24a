package store

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"rlm/internal/value"
)

// SchemaVersion is the only store layout this build reads or writes.
const SchemaVersion = 1

var (
	// ErrSessionNotFound means no durable state exists at the locator.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCorruptState means durable state exists but is structurally invalid.
	ErrCorruptState = errors.New("corrupt session state")
	// ErrSchemaMismatch is a CorruptState variant for a foreign schemaVersion.
	ErrSchemaMismatch = errors.New("unsupported session schema version")
)

// Context is the loaded text and where it came from.
type Context struct {
	Path     string
	LoadedAt time.Time
	Content  string
	// Files is set only for directory loads; Content is then the
	// concatenation of per-file sections.
	Files []string
}

// Clone returns a copy that shares no slices with c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	if c.Files != nil {
		out.Files = append([]string(nil), c.Files...)
	}
	return &out
}

// SourceKind tells refresh how to rebuild the content.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceDir  SourceKind = "dir"
)

// Source records the loader options used to build the context.
type Source struct {
	Kind     SourceKind `json:"kind"`
	Pattern  string     `json:"pattern,omitempty"`
	Exclude  []string   `json:"exclude,omitempty"`
	MaxBytes int64      `json:"max_bytes,omitempty"`
}

// Session is the unit of durable state.
type Session struct {
	ID            string
	SchemaVersion int
	Context       *Context
	Source        Source
	Buffers       []string
	Variables     map[string]value.Value
}

// NewSession creates a fresh session around ctx.
func NewSession(ctx *Context, src Source) *Session {
	return &Session{
		ID:            uuid.NewString(),
		SchemaVersion: SchemaVersion,
		Context:       ctx,
		Source:        src,
		Buffers:       []string{},
		Variables:     map[string]value.Value{},
	}
}

// VariableNames returns persisted variable names in sorted order.
func (s *Session) VariableNames() []string {
	names := make([]string, 0, len(s.Variables))
	for name := range s.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
