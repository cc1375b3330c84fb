package projectfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, File)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesProjectAndDependencies(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[project]
name = "demo"
version = "0.1.0"
package = "demo.app"
src = "lib"

[dependencies]
collections = "1.0.0"
`)

	p, err := Load(filepath.Join(dir, File))
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, "0.1.0", p.Version)
	assert.Equal(t, "demo.app", p.Package)
	assert.Equal(t, "lib", p.Src)
	assert.Equal(t, "1.0.0", p.Dependencies["collections"])
}

func TestLoadDefaultsSrcToSrc(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[project]
name = "demo"
package = "demo"
`)
	p, err := Load(filepath.Join(dir, File))
	require.NoError(t, err)
	assert.Equal(t, "src", p.Src)
}

func TestLoadRejectsKeyOutsideSection(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "name = \"demo\"\n")
	_, err := Load(filepath.Join(dir, File))
	assert.Error(t, err)
}

func TestFindWalksUpward(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project]\nname = \"demo\"\npackage = \"demo\"\n")
	nested := filepath.Join(dir, "src", "sub", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, ok := Find(nested)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, File), found)
}

func TestFindReturnsFalseWhenNoManifest(t *testing.T) {
	dir := t.TempDir()
	_, ok := Find(dir)
	assert.False(t, ok)
}

func TestExpectedPackageDotsSubdirectory(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, "[project]\nname = \"demo\"\npackage = \"demo.app\"\nsrc = \"src\"\n")
	p, err := Load(manifestPath)
	require.NoError(t, err)

	rootFile := filepath.Join(p.SrcRoot(), "main.ql")
	pkg, err := p.ExpectedPackage(rootFile)
	require.NoError(t, err)
	assert.Equal(t, "demo.app", pkg)

	nestedFile := filepath.Join(p.SrcRoot(), "util", "helpers.ql")
	pkg, err = p.ExpectedPackage(nestedFile)
	require.NoError(t, err)
	assert.Equal(t, "demo.app.util", pkg)
}

func TestExpectedPackageRejectsFileOutsideSrcRoot(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, "[project]\nname = \"demo\"\npackage = \"demo\"\nsrc = \"src\"\n")
	p, err := Load(manifestPath)
	require.NoError(t, err)

	outside := filepath.Join(dir, "..", "elsewhere", "file.ql")
	_, err = p.ExpectedPackage(outside)
	assert.Error(t, err)
}
