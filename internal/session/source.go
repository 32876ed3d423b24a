package session

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"strconv"
	"strings"
)

// unitKind classifies a top-level chunk of caller code. The interpreter
// evaluates declarations at package level and statements inside a pseudo
// main function, and cannot take both in a single Eval.
type unitKind int

const (
	unitStmt unitKind = iota
	unitDecl
	unitImport
)

// batch is one unit of evaluation: a single statement, or a run of
// consecutive declarations (which may refer to each other). src is padded
// with newlines so interpreter positions match the caller's lines.
type batch struct {
	kind unitKind
	line int
	col  int
	text string
	src  string
}

type unit struct {
	kind       unitKind
	line       int
	start, end int
}

// splitUnits cuts code at top-level statement boundaries (explicit or
// automatic semicolons at bracket depth zero). A unit ends with its last
// token, so trailing comments are left out.
func splitUnits(code string) ([]unit, error) {
	fset := token.NewFileSet()
	file := fset.AddFile("exec", -1, len(code))

	var s scanner.Scanner
	var scanErr error
	s.Init(file, []byte(code), func(pos token.Position, msg string) {
		if scanErr == nil {
			scanErr = fmt.Errorf("%d:%d: %s", pos.Line, pos.Column, msg)
		}
	}, 0)

	var (
		units []unit
		toks  []token.Token
		depth int
		start = -1
		last  int
		line  int
	)
	flush := func() {
		if start < 0 {
			return
		}
		units = append(units, unit{kind: classify(toks), line: line, start: start, end: last})
		toks = toks[:0]
		start = -1
	}

	for {
		pos, tok, lit := s.Scan()
		off := file.Offset(pos)
		if tok == token.EOF {
			flush()
			break
		}
		if tok == token.SEMICOLON && depth == 0 {
			flush()
			continue
		}
		if start < 0 {
			start = off
			line = file.Line(pos)
		}
		toks = append(toks, tok)
		last = tokenEnd(code, off, tok, lit)
		switch tok {
		case token.LPAREN, token.LBRACE, token.LBRACK:
			depth++
		case token.RPAREN, token.RBRACE, token.RBRACK:
			depth--
		}
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return units, nil
}

// tokenEnd is the offset just past the token at off.
func tokenEnd(code string, off int, tok token.Token, lit string) int {
	end := off + len(tok.String())
	switch {
	case tok == token.STRING && strings.HasPrefix(lit, "`"):
		// Raw strings lose carriage returns in lit.
		if i := strings.IndexByte(code[off+1:], '`'); i >= 0 {
			end = off + i + 2
		}
	case lit != "":
		end = off + len(lit)
	}
	if end > len(code) {
		end = len(code)
	}
	return end
}

func classify(toks []token.Token) unitKind {
	if len(toks) == 0 {
		return unitStmt
	}
	switch toks[0] {
	case token.IMPORT:
		return unitImport
	case token.TYPE, token.CONST, token.VAR:
		return unitDecl
	case token.FUNC:
		if len(toks) > 1 && toks[1] == token.IDENT {
			return unitDecl
		}
		// func (r T) M() is a method; func() {...}() is a statement.
		if len(toks) > 1 && toks[1] == token.LPAREN {
			depth := 0
			for j := 1; j < len(toks); j++ {
				switch toks[j] {
				case token.LPAREN:
					depth++
				case token.RPAREN:
					depth--
				}
				if depth == 0 {
					if j+1 < len(toks) && toks[j+1] == token.IDENT {
						return unitDecl
					}
					break
				}
			}
		}
	}
	return unitStmt
}

// batches turns units into evaluation order. Statements are evaluated one
// at a time: the interpreter declares every top-level := of an Eval before
// running it, so a fault must not leave later statements declared.
func batches(code string, units []unit) []batch {
	var out []batch
	for i := 0; i < len(units); {
		j := i
		if units[i].kind != unitStmt {
			for j+1 < len(units) && units[j+1].kind == units[i].kind {
				j++
			}
		}
		text := code[units[i].start:units[j].end]
		src := strings.Repeat("\n", units[i].line-1) + text
		if units[i].kind == unitStmt {
			// A leading func literal would otherwise be taken for a declaration.
			src = ";" + src
		}
		out = append(out, batch{
			kind: units[i].kind,
			line: units[i].line,
			col:  units[i].start - strings.LastIndexByte(code[:units[i].start], '\n'),
			text: text,
			src:  src,
		})
		i = j + 1
	}
	return out
}

// declared is what a batch introduces at package level.
type declared struct {
	vars  []string // variables and constants; these become globals
	funcs []string
	types []string
}

const stmtHeader = "package main\nfunc _() {\n"

// parseBatch parses b as Go source. Statements are wrapped in a function
// body; header is the number of lines the wrapper adds.
func parseBatch(fset *token.FileSet, b batch, mode parser.Mode) (f *ast.File, header int, err error) {
	if b.kind == unitStmt {
		f, err = parser.ParseFile(fset, "", stmtHeader+b.text+"\n}", mode)
		return f, 2, err
	}
	f, err = parser.ParseFile(fset, "", "package main\n"+b.text, mode)
	return f, 1, err
}

// declarations lists the names b declares. Unparseable code declares
// nothing.
func declarations(b batch) declared {
	var d declared
	f, _, err := parseBatch(token.NewFileSet(), b, parser.SkipObjectResolution)
	if err != nil {
		return d
	}

	genDecl := func(decl ast.Decl) {
		gd, ok := decl.(*ast.GenDecl)
		if !ok {
			return
		}
		for _, spec := range gd.Specs {
			switch spec := spec.(type) {
			case *ast.ValueSpec:
				for _, id := range spec.Names {
					if id.Name != "_" {
						d.vars = append(d.vars, id.Name)
					}
				}
			case *ast.TypeSpec:
				d.types = append(d.types, spec.Name.Name)
			}
		}
	}

	if b.kind == unitStmt {
		body := f.Decls[0].(*ast.FuncDecl).Body
		for _, stmt := range body.List {
			switch stmt := stmt.(type) {
			case *ast.AssignStmt:
				if stmt.Tok != token.DEFINE {
					continue
				}
				for _, e := range stmt.Lhs {
					if id, ok := e.(*ast.Ident); ok && id.Name != "_" {
						d.vars = append(d.vars, id.Name)
					}
				}
			case *ast.DeclStmt:
				genDecl(stmt.Decl)
			}
		}
		return d
	}

	for _, decl := range f.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok {
			if fd.Recv == nil {
				d.funcs = append(d.funcs, fd.Name.Name)
			}
			continue
		}
		genDecl(decl)
	}
	return d
}

// undefinedName finds the first identifier b uses that is declared neither
// in b itself nor among the names known reports, and returns a compiler-style
// fault positioned in the caller's code.
func undefinedName(b batch, known func(string) bool) (*ExecutionFault, bool) {
	fset := token.NewFileSet()
	f, header, err := parseBatch(fset, b, 0)
	if err != nil {
		return nil, false
	}
	for _, id := range f.Unresolved {
		if known(id.Name) || types.Universe.Lookup(id.Name) != nil {
			continue
		}
		pos := fset.Position(id.Pos())
		line := b.line + pos.Line - header - 1
		col := pos.Column
		if pos.Line == header+1 {
			col += b.col - 1
		}
		return &ExecutionFault{Err: fmt.Errorf("%d:%d: undefined: %s", line, col, id.Name), Line: line}, true
	}
	return nil, false
}

// rewriteBuiltinPrint routes calls of the print and println builtins to
// the host, which writes them to stderr; the interpreter would send them to
// stdout. Code that declares its own print or println is left alone.
func rewriteBuiltinPrint(src string) string {
	fset := token.NewFileSet()
	file := fset.AddFile("", -1, len(src))
	var s scanner.Scanner
	s.Init(file, []byte(src), nil, 0)

	type call struct{ off, n int }
	var (
		calls []call
		prev  token.Token
		name  string
		at    = -1
	)
	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		if at >= 0 && tok == token.LPAREN {
			calls = append(calls, call{at, len(name)})
		}
		at = -1
		if tok == token.IDENT && (lit == "print" || lit == "println") {
			if prev == token.FUNC {
				return src
			}
			if prev != token.PERIOD {
				at, name = file.Offset(pos), lit
			}
		}
		prev = tok
	}
	if len(calls) == 0 {
		return src
	}

	var b strings.Builder
	last := 0
	for _, c := range calls {
		b.WriteString(src[last:c.off])
		if c.n == len("println") {
			b.WriteString(hostAlias + ".Println")
		} else {
			b.WriteString(hostAlias + ".Print")
		}
		last = c.off + c.n
	}
	b.WriteString(src[last:])
	return b.String()
}

// importSpec is one parsed import line.
type importSpec struct {
	name string
	path string
}

func (s importSpec) String() string {
	if s.name != "" {
		return s.name + " " + strconv.Quote(s.path)
	}
	return strconv.Quote(s.path)
}

// parseImports extracts the specs of an import batch.
func parseImports(src string) ([]importSpec, error) {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package main\n"+src, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}
	specs := make([]importSpec, 0, len(f.Imports))
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return nil, err
		}
		spec := importSpec{path: p}
		if imp.Name != nil {
			spec.name = imp.Name.Name
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// dedupeImports drops plain imports of packages already in scope; the
// interpreter rejects a second import of the same name.
func dedupeImports(specs []importSpec, imported map[string]bool) []importSpec {
	var kept []importSpec
	for _, spec := range specs {
		if spec.name == "" {
			if imported[spec.path] {
				continue
			}
			imported[spec.path] = true
		}
		kept = append(kept, spec)
	}
	return kept
}

func importSource(specs []importSpec) string {
	if len(specs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("import (\n")
	for _, spec := range specs {
		b.WriteString("\t" + spec.String() + "\n")
	}
	b.WriteString(")")
	return b.String()
}
