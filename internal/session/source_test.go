package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitUnits_Classify(t *testing.T) {
	code := `import "os"
x := 1 // trailing comment
func helper() {}
func (p point) Len() int { return 0 }
type point struct{ x, y int }
func() {
	fmt.Println("literal")
}()
if x > 0 {
	x++
} else {
	x--
}
var y = []int{
	1,
	2,
}
const z = 3; w := 4`

	units, err := splitUnits(code)
	require.NoError(t, err)

	var kinds []unitKind
	var lines []int
	for _, u := range units {
		kinds = append(kinds, u.kind)
		lines = append(lines, u.line)
	}
	wantKinds := []unitKind{unitImport, unitStmt, unitDecl, unitDecl, unitDecl, unitStmt, unitStmt, unitDecl, unitDecl, unitStmt}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	wantLines := []int{1, 2, 3, 4, 5, 6, 9, 14, 18, 18}
	if diff := cmp.Diff(wantLines, lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "x := 1", code[units[1].start:units[1].end])
}

func TestSplitUnits_ScanError(t *testing.T) {
	_, err := splitUnits("s := \"unterminated\n")
	assert.Error(t, err)
}

func TestBatches_PreserveLines(t *testing.T) {
	code := "a := 1\nb := 2\n\nfunc f() {}\nfunc g() {}\nc := f"
	units, err := splitUnits(code)
	require.NoError(t, err)

	got := batches(code, units)
	require.Len(t, got, 4)
	assert.Equal(t, unitStmt, got[0].kind)
	assert.Equal(t, ";a := 1", got[0].src)
	assert.Equal(t, ";\nb := 2", got[1].src)
	assert.Equal(t, unitDecl, got[2].kind)
	assert.Equal(t, "\n\n\nfunc f() {}\nfunc g() {}", got[2].src)
	assert.Equal(t, "func f() {}\nfunc g() {}", got[2].text)
	assert.Equal(t, 6, got[3].line)
	assert.Equal(t, ";\n\n\n\n\nc := f", got[3].src)
}

func TestSplitUnits_RawStringEnd(t *testing.T) {
	code := "s := `a\r\nb` // note\nt := 1"
	units, err := splitUnits(code)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "s := `a\r\nb`", code[units[0].start:units[0].end])
}

func TestDeclarations(t *testing.T) {
	code := `x, _ := compute()
var a, b = 1, 2
y = 3
func f() {}
func (p T) M() {}
type T int
const c = 1`
	units, err := splitUnits(code)
	require.NoError(t, err)
	got := batches(code, units)
	require.Len(t, got, 4)

	assert.Equal(t, []string{"x"}, declarations(got[0]).vars)
	assert.Empty(t, declarations(got[2]).vars)

	d := declarations(got[3])
	assert.Equal(t, []string{"f"}, d.funcs)
	assert.Equal(t, []string{"T"}, d.types)
	assert.Equal(t, []string{"a", "b"}, declarations(got[1]).vars)
	assert.Equal(t, []string{"c"}, d.vars)
}

func TestUndefinedName(t *testing.T) {
	code := "x := 1\n\ty := missing + x"
	units, err := splitUnits(code)
	require.NoError(t, err)
	got := batches(code, units)
	require.Len(t, got, 2)

	known := func(name string) bool { return name == "x" || name == "fmt" }
	fault, ok := undefinedName(got[1], known)
	require.True(t, ok)
	assert.Equal(t, "2:7: undefined: missing", fault.Error())
	assert.Equal(t, 2, fault.Line)

	code = "fmt.Println(len(x), true)"
	units, err = splitUnits(code)
	require.NoError(t, err)
	_, ok = undefinedName(batches(code, units)[0], known)
	assert.False(t, ok)
}

func TestRewriteBuiltinPrint(t *testing.T) {
	got := rewriteBuiltinPrint("println(\"a\", 1)\nx.println(2)\nprint(3) // println(4)")
	assert.Equal(t, "__rlmhost.Println(\"a\", 1)\nx.println(2)\n__rlmhost.Print(3) // println(4)", got)

	own := "func println(s string) {}\nprintln(\"x\")"
	assert.Equal(t, own, rewriteBuiltinPrint(own))
}

func TestImports(t *testing.T) {
	specs, err := parseImports("import (\n\t\"fmt\"\n\tstr \"strings\"\n\t_ \"embed\"\n\t\"os\"\n)")
	require.NoError(t, err)
	require.Len(t, specs, 4)

	imported := map[string]bool{"fmt": true}
	kept := dedupeImports(specs, imported)
	assert.Equal(t, []importSpec{{name: "str", path: "strings"}, {name: "_", path: "embed"}, {path: "os"}}, kept)
	assert.True(t, imported["os"])

	assert.Equal(t, "import (\n\tstr \"strings\"\n\t_ \"embed\"\n\t\"os\"\n)", importSource(kept))
	assert.Equal(t, "", importSource(nil))
	assert.Empty(t, dedupeImports([]importSpec{{path: "os"}}, imported))
}
