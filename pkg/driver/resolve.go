package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/quilllang/quill/internal/projectfile"
	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/stdlib"
)

// ResolvedImport is what one `import pkg.path...` statement resolves to:
// either a std.* built-in module, or one or more sibling .ql source files
// under the project's src tree (spec.md §6's "package resolver", treated
// here as a real but minimal collaborator since the CLI must actually
// run multi-file-import programs end to end).
type ResolvedImport struct {
	Path      string
	StdModule *stdlib.Module
	Files     []string // absolute paths, when not a std.* import
}

// ResolveImport locates the package an import statement names. In
// standalone mode (proj == nil or proj.Standalone) only std.* imports can
// resolve, since there is no src tree to search.
func ResolveImport(proj *Project, imp *ast.Import) (*ResolvedImport, error) {
	if stdlib.IsStd(imp.Path) {
		mod, ok := stdlib.Lookup(imp.Path)
		if !ok {
			return nil, fmt.Errorf("unknown std package %q", imp.Path)
		}
		if imp.Single != "" {
			if err := stdlib.Resolve(imp.Path, imp.Single); err != nil {
				return nil, err
			}
		}
		for _, n := range imp.Names {
			if err := stdlib.Resolve(imp.Path, n); err != nil {
				return nil, err
			}
		}
		return &ResolvedImport{Path: imp.Path, StdModule: &mod}, nil
	}

	if proj == nil || proj.Standalone || proj.Manifest == nil {
		return nil, fmt.Errorf("import %q requires a project.toml (standalone mode only resolves std.* imports)", imp.Path)
	}

	dir, err := packageDir(proj.Manifest, imp.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unknown package %q: %w", imp.Path, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == SourceExt {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("package %q has no %s source files", imp.Path, SourceExt)
	}
	return &ResolvedImport{Path: imp.Path, Files: files}, nil
}

// packageDir maps a dotted package path onto a directory under the
// project's src root: `proj.package.sub.pkg` -> `<src>/sub/pkg`, the
// inverse of projectfile.Project.ExpectedPackage.
func packageDir(proj *projectfile.Project, path string) (string, error) {
	prefix := proj.Package + "."
	rel := path
	if path == proj.Package {
		rel = ""
	} else if strings.HasPrefix(path, prefix) {
		rel = strings.ReplaceAll(path[len(prefix):], ".", string(filepath.Separator))
	} else {
		return "", fmt.Errorf("package %q is outside this project's package %q", path, proj.Package)
	}
	return filepath.Join(proj.SrcRoot(), rel), nil
}

// DependencyTree renders the merged-package import graph for a program as
// a treeprint.Tree. No CLI command or flag currently prints it.
func DependencyTree(rootLabel string, program *ast.Program) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(rootLabel)
	for _, imp := range program.Imports {
		label := imp.Path
		switch {
		case imp.Wildcard:
			label += ".*"
		case imp.Single != "":
			label += "." + imp.Single
		case len(imp.Names) > 0:
			label += ".{" + strings.Join(imp.Names, ",") + "}"
		}
		tree.AddNode(label)
	}
	return tree
}
