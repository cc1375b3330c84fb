package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStd(t *testing.T) {
	assert.True(t, IsStd("std"))
	assert.True(t, IsStd("std.errors"))
	assert.False(t, IsStd("standalone"))
	assert.False(t, IsStd("app.std"))
}

func TestLookupKnownModules(t *testing.T) {
	mod, ok := Lookup("std.errors")
	require.True(t, ok)
	assert.Contains(t, mod.Exports, "RuntimeException")

	_, ok = Lookup("std.nope")
	assert.False(t, ok)
}

func TestResolveValidatesExportedName(t *testing.T) {
	assert.NoError(t, Resolve("std.testing", "assert"))
	assert.Error(t, Resolve("std.testing", "notAThing"))
	assert.Error(t, Resolve("std.nonexistent", "anything"))
}
