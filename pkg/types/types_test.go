package types

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/lexer"
	"github.com/quilllang/quill/pkg/parser"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "unexpected parse errors: %v", p.Errors())
	return prog
}

func findPackageMismatch(err error) (*PackageMismatch, bool) {
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			var pm *PackageMismatch
			if errors.As(e, &pm) {
				return pm, true
			}
		}
		return nil, false
	}
	var pm *PackageMismatch
	if errors.As(err, &pm) {
		return pm, true
	}
	return nil, false
}

func TestCheckStandaloneRejectsPackageDecl(t *testing.T) {
	prog := mustParse(t, "package demo\nvar x = 1;")
	c := New()
	err := c.Check(prog, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "standalone mode permits no package declaration")
}

func TestCheckStandaloneAllowsBareStatements(t *testing.T) {
	prog := mustParse(t, "var x = 1;\nprint(x);")
	c := New()
	err := c.Check(prog, "", true)
	assert.NoError(t, err)
}

func TestCheckDetectsPackageMismatch(t *testing.T) {
	prog := mustParse(t, "package demo.app\nfunc main() {}")
	c := New()
	err := c.Check(prog, "demo.other", false)
	require.Error(t, err)
	mismatch, ok := findPackageMismatch(err)
	require.True(t, ok)
	assert.Equal(t, "demo.other", mismatch.Expected)
	assert.Equal(t, "demo.app", mismatch.Actual)
}

func TestCheckRequiresMainInProjectMode(t *testing.T) {
	prog := mustParse(t, "package demo\nfunc helper() {}")
	c := New()
	err := c.Check(prog, "demo", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing main function")
}

func TestCheckRejectsTopLevelCodeInProjectMode(t *testing.T) {
	prog := mustParse(t, "package demo\nfunc main() {}\nvar x = 1;")
	c := New()
	err := c.Check(prog, "demo", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top-level code not allowed outside a function")
}

func TestCheckDetectsDuplicateDefinition(t *testing.T) {
	prog := mustParse(t, "func main() {}\nfunc main() {}")
	c := New()
	err := c.Check(prog, "demo", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate definition")
}

func TestCheckDetectsUndefinedName(t *testing.T) {
	prog := mustParse(t, "var x = y + 1;")
	c := New()
	err := c.Check(prog, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined name "y"`)
}

func TestCheckRejectsAbstractInstantiation(t *testing.T) {
	prog := mustParse(t, "abstract class Shape { func area() {} }\nvar s = new Shape();")
	c := New()
	err := c.Check(prog, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot instantiate abstract class")
}

func TestCheckConformanceRequiresInterfaceMethods(t *testing.T) {
	prog := mustParse(t, "interface Runner { func run() }\nclass Dog implements Runner {\n\tfunc bark() {}\n}")
	c := New()
	err := c.Check(prog, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing interface "Runner" method "run"`)
}

func TestCheckArityRejectsWrongArgCount(t *testing.T) {
	prog := mustParse(t, "func add(a, b) { return a + b; }\nadd(1);")
	c := New()
	err := c.Check(prog, "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 2 arguments, got 1")
}

func TestCheckArityAcceptsNamedArgumentsMatchingParams(t *testing.T) {
	prog := mustParse(t, "func add(a, b) { return a + b; }\nadd(b: 1, a: 2);")
	c := New()
	err := c.Check(prog, "", true)
	assert.NoError(t, err)
}
