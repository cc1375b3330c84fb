package driver

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it, the way the teacher pack's console/prompt
// tests redirect os.Stdin to feed fixed input.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out := make([]byte, 0, 256)
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(out)
}

// spec.md §8 scenario 1.
func TestHelloWorldPrintsAndExitsClean(t *testing.T) {
	src := `func main() { println("hello") }`
	var diag *Diagnostics
	out := captureStdout(t, func() {
		var err error
		diag, err = Run(src, nil, 1)
		require.NoError(t, err)
	})
	require.Nil(t, diag)
	assert.Equal(t, "hello\n", out)
}

// spec.md §8 scenario 2: tail-recursive fibonacci.
func TestFibonacciTailRecursion(t *testing.T) {
	src := `
func fib(n: int, a: int, b: int) -> int {
  if n == 0 { return a }
  return fib(n - 1, b, a + b)
}
func main() { println(fib(30, 0, 1)) }
`
	var diag *Diagnostics
	out := captureStdout(t, func() {
		var err error
		diag, err = Run(src, nil, 1)
		require.NoError(t, err)
	})
	require.Nil(t, diag)
	assert.Equal(t, "832040\n", out)
}

// spec.md §8 scenario 3: named-argument call.
func TestNamedArgumentCall(t *testing.T) {
	src := `
func greet(name: string, punctuation: string) { println("hi " + name + punctuation) }
func main() { greet(punctuation: "!", name: "alice") }
`
	var diag *Diagnostics
	out := captureStdout(t, func() {
		var err error
		diag, err = Run(src, nil, 1)
		require.NoError(t, err)
	})
	require.Nil(t, diag)
	assert.Equal(t, "hi alice!\n", out)
}

// spec.md §8 scenario 4: try/catch around a panic.
func TestExceptionCatchRecoversAndContinues(t *testing.T) {
	src := `
func main() {
  try { panic("boom") }
  catch (e) { println("caught") }
  println("after")
}
`
	var diag *Diagnostics
	out := captureStdout(t, func() {
		var err error
		diag, err = Run(src, nil, 1)
		require.NoError(t, err)
	})
	require.Nil(t, diag)
	assert.Equal(t, "caught\nafter\n", out)
}

// spec.md §8 scenario 5: unbuffered-channel rendezvous through a spawned
// goroutine.
func TestUnbufferedChannelRendezvousThroughGoSpawn(t *testing.T) {
	src := `
func main() {
  var c = make_channel(0)
  go func() { c.send(42) }()
  println(c.receive())
}
`
	var diag *Diagnostics
	out := captureStdout(t, func() {
		var err error
		diag, err = Run(src, nil, 2)
		require.NoError(t, err)
	})
	require.Nil(t, diag)
	assert.Equal(t, "42\n", out)
}

// spec.md §8 scenario 6: a project-mode entry file whose declared package
// doesn't match what project.toml implies for its location.
func TestPackageMismatchReportsExpectedAndActual(t *testing.T) {
	src := `package proj.other
func main() {}
`
	proj := &Project{ExpectedPackage: "proj.sub"}
	_, diag := Compile(src, proj)
	require.NotNil(t, diag)
	assert.Equal(t, "Type Error", diag.Section)
	found := false
	for _, line := range diag.Lines {
		if line == `PackageMismatch { expected: "proj.sub", actual: "proj.other" }` {
			found = true
		}
	}
	assert.True(t, found, "expected a PackageMismatch line, got %v", diag.Lines)
}

// Regression: a float local added to an int8 literal must never be routed
// through the int-only GetLocalAddInt superinstruction (spec.md §4.1's
// "statically integer type" guard on fusion). Before the type tag was
// restored to the symbol table this panicked inside the VM instead of
// printing 2.5.
func TestFloatLocalAddIntLiteralDoesNotFuseOrPanic(t *testing.T) {
	src := `func main() { var x = 1.5; println(x + 1); }`
	var diag *Diagnostics
	out := captureStdout(t, func() {
		var err error
		diag, err = Run(src, nil, 1)
		require.NoError(t, err)
	})
	require.Nil(t, diag)
	assert.Equal(t, "2.5\n", out)
}

// spec.md §7: assigning to a const-declared name is a Compile error, not a
// silent mutation.
func TestConstAssignmentIsRejectedAtCompileTime(t *testing.T) {
	src := `func main() { const x = 1; x = 2; }`
	_, diag := Compile(src, nil)
	require.NotNil(t, diag)
	assert.Equal(t, "Compile Error", diag.Section)
	found := false
	for _, line := range diag.Lines {
		if strings.Contains(line, "constant") {
			found = true
		}
	}
	assert.True(t, found, "expected a constant-assignment diagnostic, got %v", diag.Lines)
}

// spec.md §8 boundary: an empty program compiles and runs silently.
func TestEmptyProgramRunsSilently(t *testing.T) {
	diag, err := Run("", nil, 1)
	require.NoError(t, err)
	assert.Nil(t, diag)
}
