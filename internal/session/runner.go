// Package session runs caller-supplied Go code against a persisted session.
//
// Each Exec is one load, execute, save cycle. Caller code is evaluated by an
// embedded yaegi interpreter with the session bindings (Context, Content,
// Buffers and the accessor functions) in scope. After the run every other
// main-package global is offered to the serialization filter, and the
// survivors replace the session's persisted variables.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/token"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"rlm/internal/logging"
	"rlm/internal/store"
	"rlm/internal/value"
)

// State is the runner's position in the per-invocation lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoaded
	StateRunning
	StateReconciling
	StateSaved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateReconciling:
		return "reconciling"
	case StateSaved:
		return "saved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultImports are pre-imported into every run.
var DefaultImports = []string{"fmt", "strings", "strconv", "regexp", "sort", "math", "time"}

// Options controls one runner.
type Options struct {
	// MaxOutputChars bounds each captured stream; <= 0 suppresses output.
	MaxOutputChars int
	// WarnDropped appends the dropped variable names to Stderr.
	WarnDropped bool
	// Imports are evaluated before caller code. Nil means DefaultImports.
	Imports []string
	// Timeout bounds caller code; zero means unbounded.
	Timeout time.Duration
}

// ExecutionFault is an error raised by caller code. It is reported in
// Result.Stderr and never aborts the save.
type ExecutionFault struct {
	Err   error
	Panic bool
	Line  int
}

func (f *ExecutionFault) Error() string {
	if f.Panic {
		return "panic: " + f.Err.Error()
	}
	return f.Err.Error()
}

func (f *ExecutionFault) Unwrap() error { return f.Err }

// Result is what one Exec produced.
type Result struct {
	Stdout    string
	Stderr    string
	Dropped   []string
	Persisted []string
	Fault     error
	State     State
}

// Runner executes code against the session at one store locator.
type Runner struct {
	store *store.SessionStore
	opts  Options
	state State
}

// NewRunner creates a runner bound to st.
func NewRunner(st *store.SessionStore, opts Options) *Runner {
	if opts.Imports == nil {
		opts.Imports = DefaultImports
	}
	return &Runner{store: st, opts: opts}
}

// State returns the state reached by the last Exec.
func (r *Runner) State() State {
	return r.state
}

func (r *Runner) transition(to State) {
	logging.SessionDebug("Runner state: %s -> %s", r.state, to)
	r.state = to
}

// Exec runs code once. The returned error is non-nil only when the session
// could not be loaded or saved; faults in caller code are in Result.Fault.
func (r *Runner) Exec(ctx context.Context, code string) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySession, "Exec")
	defer timer.Stop()

	r.state = StateIdle
	sess, err := r.store.Load()
	if err != nil {
		r.transition(StateFailed)
		return &Result{State: StateFailed}, err
	}
	r.transition(StateLoaded)
	log := logging.Get(logging.CategorySession).With("session", sess.ID)

	out, err := openStreams()
	if err != nil {
		r.transition(StateFailed)
		return &Result{State: StateFailed}, err
	}
	defer out.close()

	env := newEnvironment(sess)
	env.stderr = out.errW
	res := &Result{}

	i, err := r.newInterpreter(env, out)
	if err != nil {
		// The session is saved unchanged so a bad import list never loses state.
		res.Fault = err
	} else {
		r.transition(StateRunning)
		snapshot := sess.Context.Clone()
		snapshotBuffers := append([]string{}, sess.Buffers...)

		o := r.run(ctx, i, code)
		if o.fault != nil {
			res.Fault = o.fault
		}

		r.transition(StateReconciling)
		if errors.Is(res.Fault, context.DeadlineExceeded) || errors.Is(res.Fault, context.Canceled) {
			// The abandoned goroutine may still hold the bindings.
			sess.Context = snapshot
			sess.Buffers = snapshotBuffers
			log.Warn("Run interrupted; keeping prior context, buffers and variables")
		} else {
			r.reconcile(i)
			res.Dropped = r.persist(i, env, o)
		}
	}

	if err := out.close(); err != nil {
		log.Warn("Output capture incomplete: %v", err)
	}
	if res.Fault != nil {
		writeFault(&out.stderr, res.Fault)
	}

	if err := r.store.Save(sess); err != nil {
		logging.SessionError("Failed to save session %s: %v", sess.ID, err)
		r.transition(StateFailed)
		res.State = StateFailed
		return res, fmt.Errorf("failed to save session: %w", err)
	}
	r.transition(StateSaved)

	res.Persisted = sess.VariableNames()
	res.Stdout = out.stdout.String()
	res.Stderr = out.stderr.String()
	if r.opts.WarnDropped && len(res.Dropped) > 0 {
		res.Stderr = appendDroppedWarning(res.Stderr, res.Dropped)
	}
	res.Stdout = Truncate(res.Stdout, r.opts.MaxOutputChars)
	res.Stderr = Truncate(res.Stderr, r.opts.MaxOutputChars)
	res.State = StateSaved

	log.Info("Exec complete: %d persisted, %d dropped, fault=%v", len(res.Persisted), len(res.Dropped), res.Fault != nil)
	return res, nil
}

// newInterpreter builds the environment: stdlib, the binding packages, the
// configured imports, the prelude, then the persisted variables.
func (r *Runner) newInterpreter(env *environment, out *streams) (*interp.Interpreter, error) {
	i := interp.New(interp.Options{Stdout: out.outW, Stderr: out.errW})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(env.exports()); err != nil {
		return nil, fmt.Errorf("failed to load bindings: %w", err)
	}

	specs := []importSpec{{name: ".", path: bindingPath}, {name: hostAlias, path: hostPath}}
	for _, p := range r.opts.Imports {
		specs = append(specs, importSpec{path: p})
	}
	if _, err := i.Eval(importSource(specs)); err != nil {
		return nil, fmt.Errorf("failed to import %v: %w", r.opts.Imports, err)
	}
	logging.Exec("Imported %d packages: %s", len(r.opts.Imports), strings.Join(r.opts.Imports, ", "))
	if _, err := i.Eval(prelude); err != nil {
		return nil, fmt.Errorf("failed to bind session: %w", err)
	}

	for _, name := range env.sess.VariableNames() {
		if !token.IsIdentifier(name) || injected[name] {
			logging.SessionWarn("Skipping persisted variable with reserved or invalid name %q", name)
			continue
		}
		if _, err := i.Eval(restoreSource(name, env.sess.Variables[name])); err != nil {
			logging.SessionWarn("Failed to restore %s: %v", name, err)
			fmt.Fprintf(out.errW, "warning: could not restore variable %s: %v\n", name, err)
		}
	}
	return i, nil
}

// outcome is what one run learned about caller code.
type outcome struct {
	fault error
	// funcs are the functions caller code declared. They live for the run
	// only.
	funcs []string
	// unsettled are the names declared by the batch that faulted. They may
	// be declared but never assigned, so they keep their prior values.
	unsettled map[string]bool
}

// run evaluates caller code batch by batch, stopping at the first fault.
func (r *Runner) run(ctx context.Context, i *interp.Interpreter, code string) outcome {
	var o outcome
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	code = rewriteBuiltinPrint(code)
	units, err := splitUnits(code)
	if err != nil {
		o.fault = &ExecutionFault{Err: err}
		return o
	}

	imported := make(map[string]bool, len(r.opts.Imports))
	packages := make(map[string]bool)
	for _, p := range r.opts.Imports {
		imported[p] = true
		packages[path.Base(p)] = true
	}
	declaredHere := make(map[string]bool)

	for _, b := range batches(code, units) {
		src := b.src
		if b.kind == unitImport {
			specs, err := parseImports(src)
			if err != nil {
				o.fault = &ExecutionFault{Err: err, Line: b.line}
				return o
			}
			for _, spec := range specs {
				if spec.name != "" {
					packages[spec.name] = true
				} else {
					packages[path.Base(spec.path)] = true
				}
			}
			src = importSource(dedupeImports(specs, imported))
			if src == "" {
				continue
			}
		}

		d := declarations(b)
		logging.ExecDebug("Eval batch at line %d (%d bytes)", b.line, len(src))
		_, err := i.EvalWithContext(ctx, src)
		if err == nil {
			o.funcs = append(o.funcs, d.funcs...)
			for _, names := range [][]string{d.vars, d.funcs, d.types} {
				for _, name := range names {
					declaredHere[name] = true
				}
			}
			continue
		}

		o.unsettled = make(map[string]bool, len(d.vars))
		for _, name := range d.vars {
			o.unsettled[name] = true
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.fault = &ExecutionFault{Err: fmt.Errorf("execution interrupted: %w", ctxErr), Line: b.line}
			return o
		}
		var p interp.Panic
		if errors.As(err, &p) {
			logging.ExecDebug("Panic in caller code: %v\n%s", p.Value, p.Stack)
			o.fault = &ExecutionFault{Err: err, Panic: true, Line: b.line}
			return o
		}

		// The interpreter's own diagnostic for an unknown name can be
		// unrelated to it, so name the identifier when one is found.
		globals := i.Globals()
		known := func(name string) bool {
			_, global := globals[name]
			return global || injected[name] || bindingNames[name] || packages[name] ||
				declaredHere[name] || name == hostAlias
		}
		if fault, ok := undefinedName(b, known); ok {
			logging.ExecDebug("Compile error in caller code: %v", err)
			o.fault = fault
			return o
		}
		o.fault = &ExecutionFault{Err: err, Line: b.line}
		return o
	}
	return o
}

func writeFault(w *bytes.Buffer, fault error) {
	if w.Len() > 0 && !strings.HasSuffix(w.String(), "\n") {
		w.WriteByte('\n')
	}
	fmt.Fprintf(w, "error: %v\n", fault)
}

// reconcile pulls Context and Buffers back out of the interpreter.
func (r *Runner) reconcile(i *interp.Interpreter) {
	src := fmt.Sprintf("%s.Reconcile(Context, Buffers)", hostAlias)
	if _, err := i.EvalWithContext(context.Background(), src); err != nil {
		logging.SessionWarn("Bindings not reconciled, keeping prior context and buffers: %v", err)
	}
}

// persist captures every non-injected global, filters it and replaces the
// session variables. Unsettled names keep their prior value, or are left out
// when they had none. It returns the dropped names, sorted, including the
// functions caller code declared.
func (r *Runner) persist(i *interp.Interpreter, env *environment, o outcome) []string {
	var names []string
	for name := range i.Globals() {
		if injected[name] || !token.IsIdentifier(name) || o.unsettled[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		src := fmt.Sprintf("%s.Capture(%q, %s)", hostAlias, name, name)
		if _, err := i.EvalWithContext(context.Background(), src); err != nil {
			logging.SessionDebug("Capture %s failed: %v", name, err)
			failed = append(failed, name)
		}
	}

	filtered := value.Filter(env.captured)
	for name := range o.unsettled {
		if v, ok := env.sess.Variables[name]; ok {
			filtered.Kept[name] = v
		}
	}
	env.sess.Variables = filtered.Kept

	dropped := append(filtered.Dropped, failed...)
	for _, name := range o.funcs {
		if !injected[name] {
			dropped = append(dropped, name)
		}
	}
	sort.Strings(dropped)
	dropped = slices.Compact(dropped)
	if len(dropped) > 0 {
		logging.SessionDebug("Dropped variables: %s", strings.Join(dropped, ", "))
	}
	return dropped
}
