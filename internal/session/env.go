package session

import (
	"fmt"
	"io"
	"reflect"
	"sort"

	"github.com/traefik/yaegi/interp"

	"rlm/internal/accessors"
	"rlm/internal/store"
	"rlm/internal/value"
)

const (
	// bindingPath is dot-imported into caller code.
	bindingPath = "rlm"
	// hostPath is the runner's private bridge, imported under hostAlias.
	hostPath  = "rlm/host"
	hostAlias = "__rlmhost"
)

// prelude declares the live bindings as interpreted globals. The accessor
// wrappers pass Context on every call so a reassignment or an in-place
// rewrite of Context.Content is seen by later calls in the same run.
const prelude = `var Context = __rlmhost.Context()
var Content = __rlmhost.Content()
var Buffers = __rlmhost.Buffers()

func Peek(start, end int) string { return __rlmhost.Peek(Context, start, end) }

func Search(pattern string, opts ...Option) ([]Match, error) {
	return __rlmhost.Search(Context, pattern, opts...)
}

func SearchCount(pattern string, flags ...Flag) (int, error) {
	return __rlmhost.SearchCount(Context, pattern, flags...)
}

func FindLines(pattern string, opts ...Option) ([]LineMatch, error) {
	return __rlmhost.FindLines(Context, pattern, opts...)
}

func ChunkSpans(size, overlap int) ([]Span, error) {
	return __rlmhost.ChunkSpans(Context, size, overlap)
}

func WriteChunks(outDir string, size, overlap int, prefix string) ([]string, error) {
	return __rlmhost.WriteChunks(Context, outDir, size, overlap, prefix)
}

func AddBuffer(text interface{}) { Buffers = append(Buffers, __rlmhost.Text(text)) }

func ExtractJSONObjects(opts ...Option) ([]map[string]interface{}, error) {
	return __rlmhost.ExtractJSONObjects(Context, opts...)
}

func ExtractYAMLDocuments(opts ...Option) ([]string, error) {
	return __rlmhost.ExtractYAMLDocuments(Context, opts...)
}

func ParseYAMLDocuments(opts ...Option) ([]interface{}, error) {
	return __rlmhost.ParseYAMLDocuments(Context, opts...)
}

func TimeRange() Timestamps { return __rlmhost.TimeRange(Context) }

func Stats() ContentStats { return __rlmhost.Stats(Context) }
`

// injected names are never persistence candidates.
var injected = map[string]bool{
	"_":                    true,
	"Context":              true,
	"Content":              true,
	"Buffers":              true,
	"Peek":                 true,
	"Search":               true,
	"SearchCount":          true,
	"FindLines":            true,
	"ChunkSpans":           true,
	"WriteChunks":          true,
	"AddBuffer":            true,
	"ExtractJSONObjects":   true,
	"ExtractYAMLDocuments": true,
	"ParseYAMLDocuments":   true,
	"TimeRange":            true,
	"Stats":                true,
}

// bindingNames are the identifiers the dot-imported binding package
// provides.
var bindingNames = func() map[string]bool {
	names := make(map[string]bool)
	for name := range newEnvironment(nil).exports()[bindingPath+"/"+bindingPath] {
		names[name] = true
	}
	return names
}()

// InjectedNames lists the bindings every run starts with.
func InjectedNames() []string {
	names := make([]string, 0, len(injected))
	for n := range injected {
		if n != "_" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// environment is the host side of one run: the session being mutated and
// the values crossing the interpreter boundary.
type environment struct {
	sess     *store.Session
	captured map[string]interface{}
	stderr   io.Writer
}

func newEnvironment(sess *store.Session) *environment {
	return &environment{sess: sess, captured: make(map[string]interface{}), stderr: io.Discard}
}

func bind(c *store.Context) *accessors.Accessors {
	return accessors.New(func() *store.Context { return c }, nil)
}

func (e *environment) exports() interp.Exports {
	return interp.Exports{
		bindingPath + "/rlm": {
			"SessionContext": reflect.ValueOf((*store.Context)(nil)),
			"Match":          reflect.ValueOf((*accessors.Match)(nil)),
			"Span":           reflect.ValueOf((*accessors.Span)(nil)),
			"LineMatch":      reflect.ValueOf((*accessors.LineMatch)(nil)),
			"Timestamps":     reflect.ValueOf((*accessors.TimeRange)(nil)),
			"ContentStats":   reflect.ValueOf((*accessors.Stats)(nil)),
			"Option":         reflect.ValueOf((*accessors.Option)(nil)),
			"Flag":           reflect.ValueOf((*accessors.Flag)(nil)),

			"Limit":  reflect.ValueOf(accessors.Limit),
			"Window": reflect.ValueOf(accessors.Window),
			"Flags":  reflect.ValueOf(accessors.Flags),

			"IgnoreCase": reflect.ValueOf(accessors.IgnoreCase),
			"Multiline":  reflect.ValueOf(accessors.Multiline),
			"DotAll":     reflect.ValueOf(accessors.DotAll),
			"Backtrack":  reflect.ValueOf(accessors.Backtrack),

			"ErrInvalidArgument": reflect.ValueOf(&accessors.ErrInvalidArgument).Elem(),
		},
		hostPath + "/host": {
			"Context": reflect.ValueOf(func() *store.Context { return e.sess.Context }),
			"Content": reflect.ValueOf(func() string {
				if e.sess.Context == nil {
					return ""
				}
				return e.sess.Context.Content
			}),
			"Buffers": reflect.ValueOf(func() []string {
				return append([]string{}, e.sess.Buffers...)
			}),
			"Text":      reflect.ValueOf(bufferText),
			"Restore":   reflect.ValueOf(e.restore),
			"Capture":   reflect.ValueOf(e.capture),
			"Reconcile": reflect.ValueOf(e.reconcile),
			"Print": reflect.ValueOf(func(args ...interface{}) {
				builtinPrint(e.stderr, false, args...)
			}),
			"Println": reflect.ValueOf(func(args ...interface{}) {
				builtinPrint(e.stderr, true, args...)
			}),

			"Peek": reflect.ValueOf(func(c *store.Context, start, end int) string {
				return bind(c).Peek(start, end)
			}),
			"Search": reflect.ValueOf(func(c *store.Context, pattern string, opts ...accessors.Option) ([]accessors.Match, error) {
				return bind(c).Search(pattern, opts...)
			}),
			"SearchCount": reflect.ValueOf(func(c *store.Context, pattern string, flags ...accessors.Flag) (int, error) {
				return bind(c).SearchCount(pattern, flags...)
			}),
			"FindLines": reflect.ValueOf(func(c *store.Context, pattern string, opts ...accessors.Option) ([]accessors.LineMatch, error) {
				return bind(c).FindLines(pattern, opts...)
			}),
			"ChunkSpans": reflect.ValueOf(func(c *store.Context, size, overlap int) ([]accessors.Span, error) {
				return bind(c).ChunkSpans(size, overlap)
			}),
			"WriteChunks": reflect.ValueOf(func(c *store.Context, outDir string, size, overlap int, prefix string) ([]string, error) {
				return bind(c).WriteChunks(outDir, size, overlap, prefix)
			}),
			"ExtractJSONObjects": reflect.ValueOf(func(c *store.Context, opts ...accessors.Option) ([]map[string]interface{}, error) {
				return bind(c).ExtractJSONObjects(opts...)
			}),
			"ExtractYAMLDocuments": reflect.ValueOf(func(c *store.Context, opts ...accessors.Option) ([]string, error) {
				return bind(c).ExtractYAMLDocuments(opts...)
			}),
			"ParseYAMLDocuments": reflect.ValueOf(func(c *store.Context, opts ...accessors.Option) ([]interface{}, error) {
				return bind(c).ParseYAMLDocuments(opts...)
			}),
			"TimeRange": reflect.ValueOf(func(c *store.Context) accessors.TimeRange {
				return bind(c).TimeRange()
			}),
			"Stats": reflect.ValueOf(func(c *store.Context) accessors.Stats {
				return bind(c).Stats()
			}),
		},
	}
}

func bufferText(text interface{}) string {
	var buffers []string
	accessors.New(nil, &buffers).AddBuffer(text)
	return buffers[0]
}

// restore hands a persisted value back to the interpreter. The caller
// asserts it to its recorded type.
func (e *environment) restore(name string) interface{} {
	v, ok := e.sess.Variables[name]
	if !ok {
		panic(fmt.Sprintf("no persisted variable %q", name))
	}
	x, err := v.Interface()
	if err != nil {
		panic(err)
	}
	return x
}

func (e *environment) capture(name string, x interface{}) {
	e.captured[name] = x
}

// reconcile adopts the post-run bindings. A nil Context keeps the prior one;
// nil Buffers becomes empty.
func (e *environment) reconcile(ctx *store.Context, buffers []string) {
	if ctx != nil {
		e.sess.Context = ctx
	}
	if buffers == nil {
		buffers = []string{}
	}
	e.sess.Buffers = buffers
}

// restoreSource returns the declaration that recreates a persisted variable
// as a global of its recorded type.
func restoreSource(name string, v value.Value) string {
	if v.Kind == value.KindNull {
		return fmt.Sprintf("var %s interface{}", name)
	}
	return fmt.Sprintf("var %s = %s.Restore(%q).(%s)", name, hostAlias, name, v.Type)
}
