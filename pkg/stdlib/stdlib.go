// Package stdlib registers the built-in "std.*" modules spec.md §6 says
// imports may resolve to instead of a source file on disk: exception
// types and test helpers. It is a name registry only — Quill's actual
// standard library surface is explicitly out of scope per spec.md §1.
package stdlib

import "fmt"

// Module is one std.* package: a dotted path and the names it exports.
type Module struct {
	Path    string
	Exports []string
}

// builtins is the fixed set of std.* modules the driver's resolver
// recognizes without looking for a stdlib/ source file on disk.
var builtins = map[string]Module{
	"std.errors": {
		Path: "std.errors",
		Exports: []string{
			"Exception", "RuntimeException", "TypeException",
			"IndexOutOfBoundsException", "NullPointerException",
			"DivisionByZeroException", "StackOverflowException",
		},
	},
	"std.testing": {
		Path:    "std.testing",
		Exports: []string{"assert", "assertEqual", "assertThrows", "fail"},
	},
}

// Lookup returns the built-in module for a dotted package path, or false
// if path isn't one of the recognized std.* built-ins (the resolver then
// falls back to looking for a stdlib/ source file).
func Lookup(path string) (Module, bool) {
	m, ok := builtins[path]
	return m, ok
}

// Resolve validates that name is exported by the std.* module at path,
// used for `import std.errors.Exception`-style single-name imports.
func Resolve(path, name string) error {
	m, ok := Lookup(path)
	if !ok {
		return fmt.Errorf("unknown std package %q", path)
	}
	for _, e := range m.Exports {
		if e == name {
			return nil
		}
	}
	return fmt.Errorf("%q has no exported member %q", path, name)
}

// IsStd reports whether a dotted import path is rooted at "std".
func IsStd(path string) bool {
	return len(path) >= 3 && path[:3] == "std" && (len(path) == 3 || path[3] == '.')
}
