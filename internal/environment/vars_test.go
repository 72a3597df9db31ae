package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathListOrderAndDedup(t *testing.T) {
	l := NewPathList("/a", "/b", "/a")
	assert.Equal(t, []string{"/a", "/b"}, l.Paths())

	l.Prepend("/c")
	assert.Equal(t, []string{"/c", "/a", "/b"}, l.Paths())

	// A duplicate insert is ignored, keeping the original position.
	l.Prepend("/b")
	assert.Equal(t, []string{"/c", "/a", "/b"}, l.Paths())

	l.Insert(1, "/d")
	assert.Equal(t, []string{"/c", "/d", "/a", "/b"}, l.Paths())

	l.Remove("/a")
	assert.Equal(t, []string{"/c", "/d", "/b"}, l.Paths())

	l.Remove("/missing")
	assert.Equal(t, []string{"/c", "/d", "/b"}, l.Paths())
}

func TestPathListInsertClamps(t *testing.T) {
	l := NewPathList("/a")
	l.Insert(99, "/z")
	l.Insert(-5, "/y")
	assert.Equal(t, []string{"/y", "/a", "/z"}, l.Paths())
}

func TestVarSetPrependPathConvertsScalar(t *testing.T) {
	vs := NewVarSet()
	vs.Set("PATH", Scalar("/usr/bin:/bin"))
	vs.PrependPath("PATH", "/env/bin")
	assert.Equal(t, "/env/bin:/usr/bin:/bin", vs.GetString("PATH"))
}

func TestVarSetFromEnviron(t *testing.T) {
	vs := VarSetFromEnviron([]string{"FOO=bar", "EMPTY=", "MALFORMED"})
	assert.Equal(t, "bar", vs.GetString("FOO"))
	assert.Equal(t, "", vs.GetString("EMPTY"))
	assert.Nil(t, vs.Get("MALFORMED"))
}

func TestVarSetEnvironSortedAndRendered(t *testing.T) {
	vs := NewVarSet()
	vs.Set("B", Scalar("2"))
	vs.Set("A", NewPathList("/x", "/y"))
	assert.Equal(t, []string{"A=/x:/y", "B=2"}, vs.Environ())
}

func TestVarSetClone(t *testing.T) {
	vs := NewVarSet()
	vs.Set("PATH", NewPathList("/a"))
	clone := vs.Clone()
	clone.PrependPath("PATH", "/b")
	assert.Equal(t, "/a", vs.GetString("PATH"))
	assert.Equal(t, "/b:/a", clone.GetString("PATH"))
}

func TestExpandDirs(t *testing.T) {
	dirs := map[string]string{"prefix": "/env", "lib": "/env/lib"}
	assert.Equal(t, "/env/etc:/env/lib", expandDirs("%(prefix)s/etc:%(lib)s", dirs))
	assert.Equal(t, "%(unknown)s", expandDirs("%(unknown)s", dirs))
	assert.Equal(t, "no refs", expandDirs("no refs", dirs))
}

func TestScalarValue(t *testing.T) {
	var v Value = Scalar("x")
	require.Equal(t, "x", v.String())
}
